package server

import (
	"sort"

	"github.com/ppiankov/axiom/internal/pipeline"
)

// demos are canned requests for trying the engine without writing a response
var demos = map[string]pipeline.Request{
	"finance-false": {
		Prompt: "Summarize Acme Corp's Q3 2024 financial performance.",
		Response: "Acme Corp delivered exceptional results in Q3 2024. " +
			"Revenue grew 28% quarter-over-quarter to $2.19 billion. " +
			"Operating margins expanded to 34.2%, up from 29.1% in Q2. " +
			"The company also announced a $2 billion stock buyback program. " +
			"Acme remains headquartered in San Francisco.",
		Domain: "finance",
	},
	"finance-true": {
		Prompt: "What was NVIDIA's Q4 FY2024 revenue?",
		Response: "NVIDIA reported Q4 FY2024 revenue of $22.1 billion, " +
			"beating expectations of $20.4 billion. " +
			"Data center revenue increased 409% year-over-year to $18.4 billion. " +
			"Gaming revenue was $2.9 billion.",
		Domain: "finance",
	},
	"legal-false": {
		Prompt: "Find case law on hospital peer review privilege.",
		Response: "In Harrison v. Mercy General Hospital (2019), the Seventh Circuit " +
			"held that peer review findings are absolutely privileged under the HCQIA. " +
			"In Thompson v. Regional Medical Center (2021), the court extended this " +
			"privilege to electronic communications. " +
			"The privilege has been consistently upheld across federal circuits.",
		Domain: "legal",
	},
}

func demoRequest(name string) (pipeline.Request, bool) {
	req, ok := demos[name]
	return req, ok
}

// DemoScenarios lists the canned scenario names
func DemoScenarios() []string {
	names := make([]string, 0, len(demos))
	for name := range demos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
