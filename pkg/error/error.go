package error

// GenericError is implemented by every typed error in this package so the
// transport layers can map them to structured responses without knowing the
// concrete type.
type GenericError interface {
	error
	ErrCode() string
	StatusCode() int
}
