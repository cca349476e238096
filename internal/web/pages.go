package web

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"dbtyaml/internal/form"
	"dbtyaml/internal/store"
	"dbtyaml/internal/workspace"

	log "github.com/sirupsen/logrus"
)

// page holds what the templates may display.
type page struct {
	Title   string
	Error   string
	Message string
	File    string

	// index
	Files   []string
	Models  []string
	Content string

	// form
	Action           string
	Update           bool
	Input            form.Input
	Materializations []string
	ColumnTests      []string
	Diff             string

	// validate
	Text    string
	Checked bool
	Valid   bool
}

func (s *Server) render(w http.ResponseWriter, status int, name string, p page) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, p); err != nil {
		log.WithError(err).WithField("template", name).Error("cannot render page")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func redirect(w http.ResponseWriter, r *http.Request, file, message string) {
	query := url.Values{}
	if file != "" {
		query.Set("file", file)
	}
	if message != "" {
		query.Set("msg", message)
	}
	target := "/"
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	p := page{
		Title:   "Configuration files",
		Message: r.URL.Query().Get("msg"),
		File:    r.URL.Query().Get("file"),
	}
	files, err := s.ws.Files()
	if err != nil {
		p.Error = err.Error()
		s.render(w, statusOf(err), "index", p)
		return
	}
	p.Files = files

	if p.File != "" {
		st, err := s.ws.OpenExisting(p.File)
		if err != nil {
			p.Error = err.Error()
			s.render(w, statusOf(err), "index", p)
			return
		}
		content, err := st.Export()
		if err != nil {
			p.Error = err.Error()
			s.render(w, statusOf(err), "index", p)
			return
		}
		p.Models = st.ListModels()
		p.Content = string(content)
	}
	s.render(w, http.StatusOK, "index", p)
}

func (s *Server) formPage(title, action, file string, in form.Input) page {
	return page{
		Title:            title,
		Action:           action,
		Update:           action == "/update",
		File:             file,
		Input:            in,
		Materializations: form.Materializations,
		ColumnTests:      form.ColumnTests,
	}
}

func (s *Server) handleAddForm(w http.ResponseWriter, r *http.Request) {
	n := s.opts.EmptyColumns
	if v, err := strconv.Atoi(r.URL.Query().Get("columns")); err == nil && v >= 0 {
		n = min(v, maxColumns)
	}
	in := form.Input{
		Materialized: form.DefaultMaterialization,
		Columns:      make([]form.Column, n),
	}
	s.render(w, http.StatusOK, "form", s.formPage("Add a model", "/add", r.URL.Query().Get("file"), in))
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	file, in, err := parseModelForm(w, r)
	p := s.formPage("Add a model", "/add", file, in)
	if err != nil {
		p.Error = err.Error()
		s.render(w, statusOf(err), "form", p)
		return
	}
	config, err := form.Build(in)
	if err != nil {
		p.Error = err.Error()
		s.render(w, statusOf(err), "form", p)
		return
	}

	if r.PostFormValue("action") == "preview" {
		target := file
		if target == "" {
			target = workspace.DefaultFileName(in.Name)
		}
		s.preview(w, p, target, in.Name, config)
		return
	}

	file, err = s.ws.AddModel(in.Name, config, file)
	if err != nil {
		p.Error = err.Error()
		s.render(w, statusOf(err), "form", p)
		return
	}
	redirect(w, r, file, fmt.Sprintf("Model %s added to %s", in.Name, file))
}

func (s *Server) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	p := s.formPage("Update a model", "/update", r.URL.Query().Get("file"), form.Input{Name: name})

	file, err := s.ws.Resolve(p.File, name)
	if err != nil {
		p.Error = err.Error()
		s.render(w, statusOf(err), "form", p)
		return
	}
	p.File = file
	st, err := s.ws.OpenExisting(file)
	if err != nil {
		p.Error = err.Error()
		s.render(w, statusOf(err), "form", p)
		return
	}
	model, err := st.Model(name)
	if err != nil {
		p.Error = err.Error()
		s.render(w, statusOf(err), "form", p)
		return
	}
	p.Input = form.FromModel(model)
	p.Input.Columns = append(p.Input.Columns, form.Column{})
	s.render(w, http.StatusOK, "form", p)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	file, in, err := parseModelForm(w, r)
	p := s.formPage("Update a model", "/update", file, in)
	fail := func(err error) {
		p.Error = err.Error()
		s.render(w, statusOf(err), "form", p)
	}
	if err != nil {
		fail(err)
		return
	}

	// the form is applied over the stored model, so what it cannot show is kept
	target, err := s.ws.Resolve(file, in.Name)
	if err != nil {
		fail(err)
		return
	}
	p.File = target
	st, err := s.ws.OpenExisting(target)
	if err != nil {
		fail(err)
		return
	}
	base, err := st.Model(in.Name)
	if err != nil {
		fail(err)
		return
	}
	config, err := form.Apply(base, in)
	if err != nil {
		fail(err)
		return
	}

	if r.PostFormValue("action") == "preview" {
		s.preview(w, p, target, in.Name, config)
		return
	}

	file, err = s.ws.UpdateModel(target, in.Name, config)
	if err != nil {
		fail(err)
		return
	}
	redirect(w, r, file, fmt.Sprintf("Model %s updated in %s", in.Name, file))
}

// preview shows the changes a save would make, without saving.
func (s *Server) preview(w http.ResponseWriter, p page, file, name string, config store.Model) {
	st, err := s.ws.Open(file)
	if err != nil {
		p.Error = err.Error()
		s.render(w, statusOf(err), "form", p)
		return
	}
	diff, err := st.Diff(name, config)
	if err != nil {
		p.Error = err.Error()
		s.render(w, statusOf(err), "form", p)
		return
	}
	if diff == "" {
		p.Message = "No change"
	}
	p.Diff = diff
	s.render(w, http.StatusOK, "form", p)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := r.ParseForm(); err != nil {
		s.render(w, http.StatusBadRequest, "index", page{Title: "Configuration files", Error: err.Error()})
		return
	}
	file := strings.TrimSpace(r.PostFormValue("file"))
	name := strings.TrimSpace(r.PostFormValue("name"))

	file, err := s.ws.DeleteModel(file, name)
	if err != nil {
		p := page{Title: "Configuration files", Error: err.Error(), File: file}
		p.Files, _ = s.ws.Files()
		s.render(w, statusOf(err), "index", p)
		return
	}

	// the file is gone when its last model was deleted
	files, _ := s.ws.Files()
	if !slices.Contains(files, file) {
		redirect(w, r, "", fmt.Sprintf("Model %s deleted, %s removed", name, file))
		return
	}
	redirect(w, r, file, fmt.Sprintf("Model %s deleted from %s", name, file))
}

func (s *Server) handleValidateForm(w http.ResponseWriter, _ *http.Request) {
	s.render(w, http.StatusOK, "validate", page{Title: "Validate a configuration"})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	p := page{Title: "Validate a configuration", Checked: true}
	if err := r.ParseForm(); err != nil {
		p.Checked = false
		p.Error = err.Error()
		s.render(w, http.StatusBadRequest, "validate", p)
		return
	}
	p.Text = r.PostFormValue("text")
	if err := store.Check([]byte(p.Text), s.opts.SupportedVersions); err != nil {
		p.Error = err.Error()
	} else {
		p.Valid = true
	}
	s.render(w, http.StatusOK, "validate", p)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	file := r.URL.Query().Get("file")
	format := r.URL.Query().Get("format")

	st, err := s.ws.OpenExisting(file)
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}

	var content []byte
	contentType, name := "application/yaml", file
	switch format {
	case "", "yaml", "yml":
		content, err = st.Export()
	case "json":
		content, err = st.ExportJSON()
		contentType = "application/json"
		name = strings.TrimSuffix(file, filepath.Ext(file)) + ".json"
	default:
		http.Error(w, fmt.Sprintf("unknown format %q, use yaml or json", format), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write(content)
}

// parseModelForm reads the fields of the model form. Column fields are
// suffixed with the row index: col_name_0, col_tests_0...
func parseModelForm(w http.ResponseWriter, r *http.Request) (string, form.Input, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := r.ParseForm(); err != nil {
		return "", form.Input{}, fmt.Errorf("%w: %v", form.ErrInvalidInput, err)
	}
	values := r.PostForm
	in := form.Input{
		Name:             strings.TrimSpace(values.Get("name")),
		Description:      values.Get("description"),
		Materialized:     values.Get("materialized"),
		Tags:             values.Get("tags"),
		Dependencies:     values.Get("dependencies"),
		CustomProperties: values.Get("custom_properties"),
	}

	var rows []int
	for key := range values {
		index, ok := strings.CutPrefix(key, "col_name_")
		if !ok {
			continue
		}
		if i, err := strconv.Atoi(index); err == nil && i >= 0 {
			rows = append(rows, i)
		}
	}
	sort.Ints(rows)
	if len(rows) > maxColumns {
		return "", in, fmt.Errorf("%w: too many columns (%d, max %d)", form.ErrInvalidInput, len(rows), maxColumns)
	}
	for _, i := range rows {
		suffix := strconv.Itoa(i)
		in.Columns = append(in.Columns, form.Column{
			Name:        values.Get("col_name_" + suffix),
			Description: values.Get("col_description_" + suffix),
			Tests:       values["col_tests_"+suffix],
			References:  values.Get("col_ref_" + suffix),
			CustomTest:  values.Get("col_custom_test_" + suffix),
		})
	}
	return strings.TrimSpace(values.Get("file")), in, nil
}
