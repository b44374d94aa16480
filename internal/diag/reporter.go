package diag

// Reporter is the minimal contract passes use to surface diagnostics.
// Implementations: BagReporter (collects into a Bag), NopReporter.
type Reporter interface {
	Report(code Code, sev Severity, pass, symbol, msg string)
}

// BagReporter writes into a *Bag.
type BagReporter struct{ Bag *Bag }

func (r BagReporter) Report(code Code, sev Severity, pass, symbol, msg string) {
	if r.Bag == nil {
		return
	}
	r.Bag.Add(Diagnostic{
		Severity: sev, Code: code, Pass: pass, Symbol: symbol, Message: msg,
	})
}

// NopReporter discards everything.
type NopReporter struct{}

func (NopReporter) Report(Code, Severity, string, string, string) {}

// ReportWarning is a shortcut for SevWarning diagnostics.
func ReportWarning(r Reporter, code Code, pass, symbol, msg string) {
	if r != nil {
		r.Report(code, SevWarning, pass, symbol, msg)
	}
}

// ReportInfo is a shortcut for SevInfo diagnostics.
func ReportInfo(r Reporter, code Code, pass, symbol, msg string) {
	if r != nil {
		r.Report(code, SevInfo, pass, symbol, msg)
	}
}
