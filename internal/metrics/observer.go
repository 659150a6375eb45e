package metrics

// BridgeObserver receives integration events worth counting.
type BridgeObserver interface {
	RecordDispatch(docType, outcome string)
	RecordRelogin()
	RecordInbox(outcome string)
	RecordSync(entity string, fetched, upserted int)
	SetDegradedTimezone(degraded bool)
	RecordJobSkipped(job string)
	SetUnconfirmed(count int)
}

type nopObserver struct{}

// Nop returns an observer that drops everything.
func Nop() BridgeObserver { return nopObserver{} }

func (nopObserver) RecordDispatch(string, string) {}
func (nopObserver) RecordRelogin() {}
func (nopObserver) RecordInbox(string) {}
func (nopObserver) RecordSync(string, int, int) {}
func (nopObserver) SetDegradedTimezone(bool) {}
func (nopObserver) RecordJobSkipped(string) {}
func (nopObserver) SetUnconfirmed(int) {}
