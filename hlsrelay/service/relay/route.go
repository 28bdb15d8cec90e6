package relay

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"
)

const proxyPathPrefix = "/proxy/"

// routed is an authorized request: the session it belongs to and the decoded
// upstream target URL.
type routed struct {
	session *Session
	target  string
}

// route authorizes a parsed request. Checks run in a fixed order: method,
// path shape, process secret, session, target token. The secret check comes
// before the session lookup so session IDs cannot be probed without the
// secret.
func (r *Relay) route(req *request) (*routed, *httpError) {
	if req.method != http.MethodGet && req.method != http.MethodHead {
		return nil, &httpError{
			status:  http.StatusMethodNotAllowed,
			message: "only GET and HEAD are supported",
		}
	}

	u, err := url.ParseRequestURI(req.target)
	if err != nil {
		return nil, &httpError{status: http.StatusBadRequest, message: "malformed request target"}
	}

	if !strings.HasPrefix(u.Path, proxyPathPrefix) {
		return nil, &httpError{status: http.StatusNotFound, message: "not found"}
	}
	id := strings.TrimPrefix(u.Path, proxyPathPrefix)
	if id == "" || strings.Contains(id, "/") {
		return nil, &httpError{status: http.StatusNotFound, message: "not found"}
	}

	query := u.Query()
	token := query.Get("token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(r.secret)) != 1 {
		return nil, &httpError{status: http.StatusForbidden, message: "invalid token"}
	}

	sess, ok := r.store.Get(id)
	if !ok {
		return nil, &httpError{status: http.StatusNotFound, message: "unknown session"}
	}

	target, ok := DecodeTarget(query.Get("url"))
	if !ok {
		return nil, &httpError{status: http.StatusBadRequest, message: "missing or invalid url parameter"}
	}

	return &routed{session: sess, target: target}, nil
}
