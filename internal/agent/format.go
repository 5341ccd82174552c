package agent

import "strconv"

// formatNum prints 45 as "45" and 7.6 as "7.6"
func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
