package httpapi

import (
	"math/rand"
	"net/http"
	"regexp"
	"time"

	json "github.com/goccy/go-json"
)

// postIDPattern is the origin's object id shape. Everything else is rejected
// before any storage access.
var postIDPattern = regexp.MustCompile(`^[0-9a-f]{24}$`)

func validPostID(id string) bool {
	return postIDPattern.MatchString(id)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// writeError responds with a fixed-vocabulary message and a small random
// delay, so response timing does not distinguish rejection reasons.
func writeError(w http.ResponseWriter, status int, msg string) {
	jitter()
	writeJSON(w, status, errorBody{Status: "error", Message: msg})
}

func jitter() {
	time.Sleep(time.Duration(rand.Intn(150)+50) * time.Millisecond)
}
