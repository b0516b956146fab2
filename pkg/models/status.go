package models

// StatusType is the lifecycle status of a plan or an action.
type StatusType string

const (
	StatusNone                StatusType = "None"
	StatusNew                 StatusType = "New"
	StatusRunning             StatusType = "Running"
	StatusComplete            StatusType = "Complete"
	StatusCompletedWithErrors StatusType = "CompletedWithErrors"
	StatusFailed              StatusType = "Failed"
	StatusCancelled           StatusType = "Cancelled"
)

var statusSeverity = map[StatusType]int{
	StatusNone:                0,
	StatusNew:                 1,
	StatusRunning:             2,
	StatusComplete:            3,
	StatusCompletedWithErrors: 4,
	StatusFailed:              5,
	StatusCancelled:           6,
}

// IsTerminal reports whether no further transitions are expected.
func (s StatusType) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusCompletedWithErrors, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Severity orders statuses for branch aggregation; higher wins.
func (s StatusType) Severity() int {
	return statusSeverity[s]
}

// Valid reports whether s is one of the known statuses.
func (s StatusType) Valid() bool {
	_, ok := statusSeverity[s]

	return ok
}

// MostSevere returns the status with the highest severity.
func MostSevere(statuses ...StatusType) StatusType {
	worst := StatusNone
	for _, s := range statuses {
		if s.Severity() > worst.Severity() {
			worst = s
		}
	}

	return worst
}
