package errcollection

import "strings"

const delimiter = "; "

// ErrorCollection gathers several errors and reports them as one.
// The combined error still matches every collected error through errors.Is.
type ErrorCollection struct {
	errorList []error
}

// Add appends err; nil is ignored.
func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.errorList = append(e.errorList, err)
	}
}

// Len returns the number of collected errors.
func (e *ErrorCollection) Len() int {
	return len(e.errorList)
}

// GetErrIfAny returns nil when nothing was collected.
func (e *ErrorCollection) GetErrIfAny() error {
	if len(e.errorList) == 0 {
		return nil
	}
	list := make([]error, len(e.errorList))
	copy(list, e.errorList)
	return &combined{errs: list}
}

type combined struct {
	errs []error
}

func (c *combined) Error() string {
	msgs := make([]string, 0, len(c.errs))
	for _, err := range c.errs {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, delimiter)
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (c *combined) Unwrap() []error {
	return c.errs
}
