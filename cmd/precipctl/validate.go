package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/couchcryptid/precip-station-service/internal/crs"
	"github.com/couchcryptid/precip-station-service/internal/domain"
	"github.com/couchcryptid/precip-station-service/internal/geometry"
	"github.com/couchcryptid/precip-station-service/internal/reconcile"
	"github.com/couchcryptid/precip-station-service/internal/tabular"
)

var errValidationFailed = errors.New("validation failed")

type validateCmd struct {
	inputFlags `embed:""`
	Strict     bool `help:"Fail the tabular phase on dropped rows and rejected values."`
}

// phase tracks pass/fail for a validation phase. Notes are reported but do
// not fail the phase.
type phase struct {
	name    string
	skipped bool
	errors  []string
	notes   []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) notef(format string, args ...any) {
	p.notes = append(p.notes, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func (p *phase) status() string {
	switch {
	case p.skipped:
		return "\033[33mSKIP\033[0m"
	case p.passed():
		return "\033[32mPASS\033[0m"
	default:
		return fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
	}
}

func (c *validateCmd) Run(rc *runContext) error {
	delim, err := c.delimiter()
	if err != nil {
		return err
	}
	source, err := crs.Lookup(c.SourceCRS)
	if err != nil {
		return fmt.Errorf("--source-crs: %w", err)
	}

	fmt.Fprintln(rc.out, "=== Station Dataset Validation ===")
	fmt.Fprintln(rc.out)

	tab, tabPhase := c.validateTabular(delim)
	geo, geoPhase := c.validateGeometry(rc, source)
	phases := []*phase{tabPhase, geoPhase, validateReconcile(tab, geo, tabPhase.passed(), geoPhase)}

	allPassed := true
	for _, p := range phases {
		if !p.passed() {
			allPassed = false
		}
		fmt.Fprintf(rc.out, "  %-12s %s\n", p.name, p.status())
	}
	fmt.Fprintln(rc.out)
	fmt.Fprintf(rc.out, "Rows: %d total, %d kept, %d dropped; %d features\n",
		tab.Report.TotalRows, tab.Report.KeptRows, tab.Report.DroppedCount(), len(geo.Features))

	for _, p := range phases {
		if len(p.errors) == 0 && len(p.notes) == 0 {
			continue
		}
		fmt.Fprintf(rc.out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(rc.out, "  [%d] %s\n", i+1, e)
		}
		for _, n := range p.notes {
			fmt.Fprintf(rc.out, "  note: %s\n", n)
		}
	}

	if allPassed {
		fmt.Fprintln(rc.out, "\nAll validations passed.")
		return nil
	}
	fmt.Fprintln(rc.out, "\nValidation FAILED.")
	return errValidationFailed
}

func (c *validateCmd) validateTabular(delim rune) (tabular.Result, *phase) {
	p := &phase{name: "tabular"}
	data, err := os.ReadFile(c.CSV)
	if err != nil {
		p.errorf("read %s: %v", c.CSV, err)
		return tabular.Result{}, p
	}
	res, err := tabular.Load(data, tabular.Options{Delimiter: delim})
	if err != nil {
		p.errorf("%s: %v", domain.Kind(err), err)
		return res, p
	}

	report := func(format string, args ...any) { p.notef(format, args...) }
	if c.Strict {
		report = p.errorf
	}
	for _, d := range res.Report.Dropped {
		report("line %d dropped (%s) station %q", d.Line, d.Reason, d.StationID)
	}
	if res.Report.RejectedValues > 0 {
		report("%d year values were negative or not numeric", res.Report.RejectedValues)
	}
	if res.Report.YearColumns == 0 {
		p.notef("no year columns found")
	}
	p.notef("delimiter %q, encoding %s, %d year columns", res.Report.Delimiter, res.Report.Encoding, res.Report.YearColumns)
	return res, p
}

func (c *validateCmd) validateGeometry(rc *runContext, source crs.CRS) (geometry.Result, *phase) {
	p := &phase{name: "geometry"}
	if c.Archive == "" {
		p.skipped = true
		return geometry.Result{}, p
	}
	data, err := os.ReadFile(c.Archive)
	if err != nil {
		p.errorf("read %s: %v", c.Archive, err)
		return geometry.Result{}, p
	}
	res, err := geometry.Load(rc.ctx, data, geometry.Options{DefaultCRS: source})
	if err != nil {
		p.errorf("%s: %v", domain.Kind(err), err)
		return res, p
	}
	if res.AssumedCRS {
		p.notef("no .prj in archive, assumed %s", res.CRS)
	}
	if res.Skipped > 0 {
		p.notef("%d records without a station id were skipped", res.Skipped)
	}
	for _, w := range res.Warnings {
		p.notef("%s", w)
	}
	return res, p
}

func validateReconcile(tab tabular.Result, geo geometry.Result, tabOK bool, geoPhase *phase) *phase {
	p := &phase{name: "reconcile"}
	if !tabOK || !geoPhase.passed() {
		p.skipped = true
		return p
	}
	res, err := reconcile.Reconcile(tab.Seeds, geo.Features, !geoPhase.skipped)
	if err != nil {
		p.errorf("%s: %v", domain.Kind(err), err)
		return p
	}
	if res.Warning != nil {
		p.errorf("%s: %v", domain.Kind(res.Warning), res.Warning)
	}
	for _, id := range res.Duplicates {
		p.notef("station %q appears more than once; the last row wins", id)
	}
	if res.Join.Strategy != domain.JoinNone {
		p.notef("%s join matched %d stations, %d without boundary", res.Join.Strategy, res.Join.Matched, res.Join.Unmatched)
	}
	return p
}
