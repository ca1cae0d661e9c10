package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/zalando/routekeeper/routing"
)

// List is the body of the list responses.
type List struct {
	Result      []json.RawMessage `json:"result"`
	ResultCount int               `json:"resultCount"`
}

// readBody returns the route configuration from the request body, without
// the _id field, and the value of the _id field.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyLength))
	if err != nil {
		return nil, "", err
	}

	if !gjson.ValidBytes(b) || !gjson.ParseBytes(b).IsObject() {
		return nil, "", fmt.Errorf("%w: a JSON object expected", errMalformedBody)
	}

	idValue := gjson.GetBytes(b, idField)
	if !idValue.Exists() {
		return b, "", nil
	}

	if idValue.Type != gjson.String {
		return nil, "", fmt.Errorf("%w: %s must be a string", errMalformedBody, idField)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, "", fmt.Errorf("%w: %v", errMalformedBody, err)
	}

	delete(fields, idField)
	b, err = json.Marshal(fields)
	return b, idValue.String(), err
}

// tagged returns the configuration of the route with its id in the _id
// field.
func tagged(info routing.Info) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(info.Config, &fields); err != nil {
		return nil, err
	}

	id, err := json.Marshal(info.Id)
	if err != nil {
		return nil, err
	}

	fields[idField] = id
	return json.Marshal(fields)
}

func (a *API) respond(w http.ResponseWriter, r *http.Request, code int, info routing.Info) {
	body, err := tagged(info)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, code, body)
}

func (a *API) list(w http.ResponseWriter, r *http.Request) {
	infos := a.routes.Routes()
	l := List{Result: make([]json.RawMessage, 0, len(infos))}
	for _, info := range infos {
		body, err := tagged(info)
		if err != nil {
			a.fail(w, r, err)
			return
		}

		l.Result = append(l.Result, body)
	}

	l.ResultCount = len(l.Result)
	writeJSON(w, http.StatusOK, l)
}

func (a *API) create(w http.ResponseWriter, r *http.Request, id string, config []byte, collection string) {
	info, err := a.routes.Deploy(id, "", config)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	w.Header().Set("Location", path.Join(a.basePath, collection, id))
	a.respond(w, r, http.StatusCreated, info)
}

func (a *API) createFromBody(w http.ResponseWriter, r *http.Request) {
	config, id, err := readBody(w, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	if id == "" {
		id = uuid.NewString()
	}

	a.create(w, r, id, config, "routes")
}

func (a *API) createFromPath(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	config, bodyID, err := readBody(w, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	if bodyID != "" && bodyID != id {
		a.fail(w, r, fmt.Errorf("%w: %s does not match the path", errMalformedBody, idField))
		return
	}

	a.create(w, r, id, config, "route")
}

func (a *API) read(w http.ResponseWriter, r *http.Request) {
	info, err := a.routes.Route(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.respond(w, r, http.StatusOK, info)
}

func (a *API) update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	config, bodyID, err := readBody(w, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	if bodyID != "" && bodyID != id {
		a.fail(w, r, fmt.Errorf("%w: %s does not match the path", errMalformedBody, idField))
		return
	}

	info, err := a.routes.Update(id, "", config)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.respond(w, r, http.StatusOK, info)
}

func (a *API) delete(w http.ResponseWriter, r *http.Request) {
	info, err := a.routes.Undeploy(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.respond(w, r, http.StatusOK, info)
}
