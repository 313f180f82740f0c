package test

import (
	"fmt"
	"html/template"
	"os"
	"time"
)

// TestSuite aggregates one integration run for the report writers.
type TestSuite struct {
	Name        string       `json:"name"`
	StartTime   time.Time    `json:"start_time"`
	EndTime     time.Time    `json:"end_time"`
	TotalTests  int          `json:"total_tests"`
	PassedTests int          `json:"passed_tests"`
	FailedTests int          `json:"failed_tests"`
	Results     []TestResult `json:"results"`
}

// TestResult is one recorded check within the suite.
type TestResult struct {
	TestName        string         `json:"test_name"`
	Category        string         `json:"category"`
	Description     string         `json:"description"`
	Passed          bool           `json:"passed"`
	ExpectedOutcome string         `json:"expected_outcome"`
	ActualOutcome   string         `json:"actual_outcome"`
	Details         map[string]any `json:"details,omitempty"`
	Duration        time.Duration  `json:"duration"`
	Error           string         `json:"error,omitempty"`
}

// CategoryGroup groups results by category, in first-seen order.
type CategoryGroup struct {
	Category string
	Tests    []TestResult
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>{{.Name}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", Roboto, Arial, sans-serif; max-width: 960px; margin: 2em auto; padding: 0 1em; color: #222; }
h1 { font-size: 1.6em; margin-bottom: 0.2em; }
h2 { font-size: 1.2em; border-bottom: 2px solid #445; padding-bottom: 0.2em; margin-top: 1.6em; }
.meta { color: #666; margin: 0 0 1.2em; }
.totals { font-weight: 600; }
.totals .failed { color: #c62828; }
.test { border: 1px solid #ddd; border-left: 4px solid #2e7d32; border-radius: 4px; padding: 0.8em 1em; margin: 0.8em 0; }
.test.failed { border-left-color: #c62828; background: #fff6f6; }
.name { font-weight: 600; }
.duration { color: #888; font-weight: 400; font-size: 0.85em; margin-left: 0.6em; }
.desc { color: #555; margin: 0.3em 0 0.6em; }
dl { display: grid; grid-template-columns: 6em auto; gap: 0.2em 0.8em; margin: 0; font-size: 0.92em; }
dt { color: #777; }
dd { margin: 0; }
pre.err { background: #fdecea; color: #8a1c13; padding: 0.6em; border-radius: 4px; overflow-x: auto; }
</style>
</head>
<body>
<h1>{{.Name}}</h1>
<p class="meta">Generated {{.EndTime.Format "2006-01-02 15:04:05 MST"}} after {{.EndTime.Sub .StartTime | FormatDuration}}</p>
<p class="totals">{{.TotalTests}} checks: {{.PassedTests}} passed{{if .FailedTests}}, <span class="failed">{{.FailedTests}} failed</span>{{else}}, 0 failed{{end}} ({{PassRate .PassedTests .TotalTests}}% pass rate)</p>
{{range GroupByCategory .Results}}
<h2>{{.Category}}</h2>
{{range .Tests}}
<div class="test{{if not .Passed}} failed{{end}}">
<div class="name">{{.TestName}}<span class="duration">{{FormatDuration .Duration}}</span></div>
<p class="desc">{{.Description}}</p>
<dl>
<dt>Expected</dt><dd>{{.ExpectedOutcome}}</dd>
<dt>Actual</dt><dd>{{.ActualOutcome}}</dd>
{{range $key, $value := .Details}}<dt>{{$key}}</dt><dd>{{printf "%v" $value}}</dd>
{{end}}</dl>
{{if .Error}}<pre class="err">{{.Error}}</pre>{{end}}
</div>
{{end}}
{{end}}
</body>
</html>
`

// GenerateHTMLReport renders the suite as a standalone HTML page.
func GenerateHTMLReport(suite *TestSuite, filename string) error {
	funcMap := template.FuncMap{
		"FormatDuration": func(d time.Duration) string {
			switch {
			case d < time.Millisecond:
				return fmt.Sprintf("%dus", d.Microseconds())
			case d < time.Second:
				return fmt.Sprintf("%dms", d.Milliseconds())
			default:
				return fmt.Sprintf("%.2fs", d.Seconds())
			}
		},
		"PassRate": func(passed, total int) int {
			if total == 0 {
				return 0
			}
			return (passed * 100) / total
		},
		"GroupByCategory": func(results []TestResult) []CategoryGroup {
			byName := make(map[string]int)
			var groups []CategoryGroup
			for _, r := range results {
				i, seen := byName[r.Category]
				if !seen {
					i = len(groups)
					byName[r.Category] = i
					groups = append(groups, CategoryGroup{Category: r.Category})
				}
				groups[i].Tests = append(groups[i].Tests, r)
			}
			return groups
		},
	}

	tmpl, err := template.New("report").Funcs(funcMap).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse report template: %w", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	if err := tmpl.Execute(file, suite); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}
