// Package dispatch implements the action contract and request dispatcher
// described in spec §4.6: a path-segment tree resolving to a registered
// action, run through a fixed ordered pipeline of checks before
// execution.
package dispatch

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docvault/engine/pkg/apperr"
	"github.com/docvault/engine/pkg/metrics"
	"github.com/docvault/engine/pkg/security"
)

// Verb is one of the four HTTP methods accepted by the wire protocol.
type Verb string

const (
	GET    Verb = http.MethodGet
	PUT    Verb = http.MethodPut
	UPDATE Verb = "UPDATE"
	DELETE Verb = http.MethodDelete
)

// Context carries everything a handler needs: the resolved path
// arguments, query arguments, an optionally-parsed JSON body, and the
// caller's authentication result.
type Context struct {
	Request *http.Request
	Args    map[string]string
	Body    json.RawMessage
	Auth    *security.AuthResult
}

// Arg fetches a named argument case-insensitively; every argument name is
// looked up in lower case.
func (c *Context) Arg(name string) (string, bool) {
	v, ok := c.Args[strings.ToLower(name)]
	return v, ok
}

// Action is a single registered operation: its verb, required arguments,
// body requirement, accepted auth modes, and the resource/operation pair
// checked against the caller's permissions.
type Action struct {
	Name         string
	Verb         Verb
	RequiredArgs []string
	RequiresBody bool
	AuthModes    []security.Mode
	Resource     string
	Operation    string
	Handler      func(ctx *Context) (interface{}, error)
}

func (a *Action) allowsMode(mode security.Mode) bool {
	if len(a.AuthModes) == 0 {
		return true
	}
	for _, m := range a.AuthModes {
		if m == mode {
			return true
		}
	}
	return false
}

type node struct {
	children map[string]*node
	action   *Action
}

func newNode() *node { return &node{children: make(map[string]*node)} }

// Dispatcher is the path-segment tree plus the auth/permission pipeline.
type Dispatcher struct {
	root   *node
	auth   *security.AuthManager
	logger *zap.Logger
}

// New creates an empty dispatcher.
func New(auth *security.AuthManager, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{root: newNode(), auth: auth, logger: logger}
}

// Register binds an action to the path segments leading to it, e.g.
// Register([]string{"data", "db", "table", "dataset"}, action).
func (d *Dispatcher) Register(segments []string, action *Action) {
	n := d.root
	for _, seg := range segments {
		seg = strings.ToLower(seg)
		child, ok := n.children[seg]
		if !ok {
			child = newNode()
			n.children[seg] = child
		}
		n = child
	}
	n.action = action
}

func (d *Dispatcher) resolve(path string) *Action {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	n := d.root
	for _, seg := range segments {
		child, ok := n.children[strings.ToLower(seg)]
		if !ok {
			return nil
		}
		n = child
	}
	return n.action
}

const maxBodyBytes = 8 << 20 // 8 MiB, §6

// ServeHTTP runs the §4.6 pipeline: resolve, verb check, required-args
// check, body-required check, auth-mode check, permission check, execute.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Connection", "close")

	action := d.resolve(r.URL.Path)
	if action == nil {
		d.writeError(w, apperr.New(apperr.Validation, "no action registered at this path"))
		return
	}

	if string(action.Verb) != r.Method {
		d.writeError(w, apperr.New(apperr.MethodNotAllowed, "method not allowed for this action"))
		return
	}

	args := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			args[strings.ToLower(k)] = v[0]
		}
	}

	for _, required := range action.RequiredArgs {
		if _, ok := args[strings.ToLower(required)]; !ok {
			d.writeError(w, apperr.New(apperr.Validation, "missing required argument: "+required))
			return
		}
	}

	var body json.RawMessage
	if action.RequiresBody {
		if r.ContentLength <= 0 {
			d.writeError(w, apperr.New(apperr.PayloadRequired, "request body is required"))
			return
		}
		if r.ContentLength > maxBodyBytes {
			d.writeError(w, apperr.New(apperr.PayloadTooLarge, "request body exceeds the 8 MiB limit"))
			return
		}
		ct := r.Header.Get("Content-Type")
		if !strings.HasPrefix(ct, "application/json") {
			d.writeError(w, apperr.New(apperr.Unsupported, "content-type must be application/json"))
			return
		}

		limited := http.MaxBytesReader(w, r.Body, maxBodyBytes)
		decoded := json.RawMessage{}
		if err := json.NewDecoder(limited).Decode(&decoded); err != nil {
			d.writeError(w, apperr.Wrap(err, apperr.BodyParse, "malformed JSON body"))
			return
		}
		body = decoded
	}

	authResult, err := d.auth.AuthenticateRequest(r)
	if err != nil {
		if err == security.ErrAuthRequired {
			d.writeError(w, apperr.New(apperr.AuthRequired, "authentication required"))
		} else {
			d.writeError(w, apperr.New(apperr.AuthInvalid, "authentication rejected"))
		}
		return
	}
	if !action.allowsMode(authResult.Mode) {
		d.writeError(w, apperr.New(apperr.AuthInvalid, "authentication mode not permitted for this action"))
		return
	}

	if !d.auth.Authorize(authResult, action.Resource, action.Operation) {
		d.writeError(w, apperr.New(apperr.AuthInvalid, "caller lacks permission for this action"))
		return
	}

	ctx := &Context{Request: r, Args: args, Body: body, Auth: authResult}

	start := time.Now()
	result, err := action.Handler(ctx)
	metrics.DispatchDuration.WithLabelValues(action.Resource, action.Operation).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.DispatchTotal.WithLabelValues(action.Resource, action.Operation, string(apperr.KindOf(err))).Inc()
		d.writeError(w, err)
		return
	}
	metrics.DispatchTotal.WithLabelValues(action.Resource, action.Operation, "ok").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if result != nil {
		_ = json.NewEncoder(w).Encode(result)
	}
}

func (d *Dispatcher) writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := apperr.New(kind, "").HTTPStatus()

	w.Header().Set("Internal-Status", string(kind))
	if appErr, ok := err.(*apperr.Error); ok && appErr.Message != "" {
		w.Header().Set("Additional-Information", appErr.Message)
	}

	if d.logger != nil && status >= http.StatusInternalServerError {
		d.logger.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
