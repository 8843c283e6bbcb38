package order

// Per-kind transition tables. Forward progress after send is driven by the
// counter-party and arrives through ObserveStatus; this service never
// initiates those transitions itself.
var prescriptionTransitions = map[string][]string{
	StatusDraft:      {StatusSent, StatusCancelled},
	StatusSent:       {StatusReceived, StatusDeclined, StatusCancelled, StatusExpired},
	StatusReceived:   {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusReady, StatusCancelled},
	StatusReady:      {StatusPickedUp, StatusDelivered, StatusCancelled, StatusExpired},
	StatusPickedUp:   {StatusDispensed},
	StatusDelivered:  {StatusDispensed},
}

var labTransitions = map[string][]string{
	StatusPending:         {StatusSentToLab, StatusCancelled},
	StatusSentToLab:       {StatusSampleCollected, StatusDenied, StatusCancelled},
	StatusSampleCollected: {StatusProcessing, StatusCancelled},
	StatusProcessing:      {StatusResultsReady, StatusCompleted, StatusCancelled},
	StatusResultsReady:    {StatusCompleted},
}

func transitions(kind string) map[string][]string {
	if kind == KindLabRequest {
		return labTransitions
	}
	return prescriptionTransitions
}

// CanTransition reports whether from→to is a legal step for the kind.
func CanTransition(kind, from, to string) bool {
	for _, next := range transitions(kind)[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InitialStatus is the status a freshly created order starts in.
func InitialStatus(kind string) string {
	if kind == KindLabRequest {
		return StatusPending
	}
	return StatusDraft
}

// SentStatus is the status written when the clinician sends the order.
func SentStatus(kind string) string {
	if kind == KindLabRequest {
		return StatusSentToLab
	}
	return StatusSent
}

// DeclinedStatus is the counter-party's rejection status for the kind.
func DeclinedStatus(kind string) string {
	if kind == KindLabRequest {
		return StatusDenied
	}
	return StatusDeclined
}

// ValidStatus reports whether the status exists for the kind at all.
func ValidStatus(kind, status string) bool {
	if status == InitialStatus(kind) || status == StatusCancelled || status == DeclinedStatus(kind) {
		return true
	}
	if kind == KindPrescription && status == StatusExpired {
		return true
	}
	if _, ok := transitions(kind)[status]; ok {
		return true
	}
	for _, nexts := range transitions(kind) {
		for _, next := range nexts {
			if next == status {
				return true
			}
		}
	}
	return false
}

// Timeline slot indexes per kind. Completion variants collapse onto the
// final slot so the progress bar renders one "done" step regardless of how
// the order completed.
var prescriptionSlots = map[string]int{
	StatusDraft:      0,
	StatusSent:       1,
	StatusReceived:   2,
	StatusProcessing: 3,
	StatusReady:      4,
	StatusPickedUp:   5,
	StatusDelivered:  5,
	StatusDispensed:  5,
	StatusDeclined:   1,
}

var labSlots = map[string]int{
	StatusPending:         0,
	StatusSentToLab:       1,
	StatusSampleCollected: 2,
	StatusProcessing:      3,
	StatusResultsReady:    4,
	StatusCompleted:       4,
	StatusDenied:          1,
}

// TimelineStep maps a status to its timeline slot. branched is true for
// declined/denied, which render as a dead end off the sent slot rather than
// forward progress. Terminal cancellations sit outside the timeline and
// report slot -1.
func TimelineStep(kind, status string) (slot int, branched bool) {
	slots := prescriptionSlots
	if kind == KindLabRequest {
		slots = labSlots
	}
	s, ok := slots[status]
	if !ok {
		return -1, false
	}
	return s, status == DeclinedStatus(kind)
}
