package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
)

// JUnitReporter writes one <testsuite> per run with one <testcase> per step,
// so CI systems can show the probe like any test run. Error steps become
// failures, skipped steps are skipped and warnings are recorded in
// <system-out> of an otherwise passing case.
type JUnitReporter struct {
	w io.WriteCloser
}

func NewJUnitReporter(w io.WriteCloser) *JUnitReporter {
	return &JUnitReporter{w: w}
}

func (r *JUnitReporter) Write(report *schemas.RunReport) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	counts := report.Counts()
	suites := doc.CreateElement("testsuites")
	suite := suites.CreateElement("testsuite")
	suite.CreateAttr("name", report.Scenario)
	suite.CreateAttr("id", report.ID)
	suite.CreateAttr("tests", fmt.Sprint(len(report.Steps)))
	suite.CreateAttr("failures", fmt.Sprint(counts[schemas.StatusError]))
	suite.CreateAttr("errors", "0")
	suite.CreateAttr("skipped", fmt.Sprint(counts[schemas.StatusSkipped]))
	suite.CreateAttr("time", seconds(report.Duration().Seconds()))
	suite.CreateAttr("timestamp", report.StartedAt.UTC().Format("2006-01-02T15:04:05"))

	props := suite.CreateElement("properties")
	addProperty(props, "verdict", report.Verdict.String())
	addProperty(props, "timed_out", fmt.Sprint(report.TimedOut))
	addProperty(props, "events", fmt.Sprint(len(report.Events)))

	for _, o := range report.Steps {
		tc := suite.CreateElement("testcase")
		tc.CreateAttr("name", fmt.Sprintf("%02d %s", o.Index, o.Name))
		tc.CreateAttr("classname", report.Scenario+"."+string(o.Kind))
		tc.CreateAttr("time", seconds(o.Duration().Seconds()))

		switch o.Status {
		case schemas.StatusError:
			f := tc.CreateElement("failure")
			f.CreateAttr("message", o.Message)
			f.CreateAttr("type", string(o.ErrorKind))
			f.SetText(failureDetail(o))
		case schemas.StatusSkipped:
			tc.CreateElement("skipped").CreateAttr("message", o.Message)
		case schemas.StatusWarning:
			tc.CreateElement("system-out").SetText(fmt.Sprintf("WARNING [%s]: %s", o.ErrorKind, o.Message))
		}
	}

	doc.Indent(2)
	_, err := doc.WriteTo(r.w)
	return err
}

func (r *JUnitReporter) Close() error { return r.w.Close() }

func addProperty(parent *etree.Element, name, value string) {
	p := parent.CreateElement("property")
	p.CreateAttr("name", name)
	p.CreateAttr("value", value)
}

func failureDetail(o schemas.StepOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", o.Message)
	if o.ContinueOnFailure {
		b.WriteString("continue_on_failure: true (run was not aborted)\n")
	}
	if o.Matched != nil {
		fmt.Fprintf(&b, "matched: %s\n", o.Matched)
	}
	return b.String()
}

func seconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}
