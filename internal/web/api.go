package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"dbtyaml/internal/store"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	sigsyaml "sigs.k8s.io/yaml"
)

// handleListFiles handles GET /api/files.
func (s *Server) handleListFiles(w http.ResponseWriter, _ *http.Request) {
	files, err := s.ws.Files()
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// handleListModels handles GET /api/files/{file}/models.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	st, err := s.ws.OpenExisting(file)
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file":   file,
		"models": st.ListModels(),
	})
}

// handleGetModel handles GET /api/files/{file}/models/{name}.
func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	st, err := s.ws.OpenExisting(r.PathValue("file"))
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	model, err := st.Model(r.PathValue("name"))
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeModel(w, http.StatusOK, model)
}

// handlePutModel handles PUT /api/files/{file}/models/{name}. The model is
// added when absent and replaced otherwise.
func (s *Server) handlePutModel(w http.ResponseWriter, r *http.Request) {
	file, name := r.PathValue("file"), r.PathValue("name")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("reading request body: %v", err))
		return
	}
	config, err := decodeModel(body)
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	if config.Name != "" && config.Name != name {
		err := &store.ValidationError{Problems: []string{
			fmt.Sprintf("the body names the model %q, the path %q", config.Name, name),
		}}
		writeError(w, statusOf(err), err.Error())
		return
	}

	st, err := s.ws.Open(file)
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	status := http.StatusOK
	if _, missing := st.Model(name); missing == nil {
		err = st.UpdateModel(name, config)
	} else {
		err = st.AddModel(name, config)
		status = http.StatusCreated
	}
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}

	model, err := st.Model(name)
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeModel(w, status, model)
}

// handleDeleteModel handles DELETE /api/files/{file}/models/{name}.
func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	if _, err := s.ws.DeleteModel(r.PathValue("file"), r.PathValue("name")); err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeModel reads a JSON model. Keys without a field are kept.
func decodeModel(body []byte) (store.Model, error) {
	content, err := sigsyaml.JSONToYAML(body)
	if err != nil {
		return store.Model{}, store.NewParseError("request body", err)
	}
	var model store.Model
	if err := yaml.Unmarshal(content, &model); err != nil {
		return store.Model{}, store.NewParseError("request body", err)
	}
	return model, nil
}

// writeModel writes a model as JSON, including the keys without a field.
func writeModel(w http.ResponseWriter, status int, model store.Model) {
	content, err := yaml.Marshal(model)
	if err == nil {
		content, err = sigsyaml.YAMLToJSON(content)
	}
	if err != nil {
		log.WithError(err).WithField("model", model.Name).Error("cannot encode model")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, status, json.RawMessage(content))
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
