package utils

// ResponseData is the envelope every REST endpoint answers with.
type ResponseData struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Results any    `json:"results,omitempty"`
}

// PanicIfNeeded panics on a non-nil error so the recovery middleware can map
// it to a structured response. Handlers stay free of error plumbing.
func PanicIfNeeded(err error) {
	if err != nil {
		panic(err)
	}
}
