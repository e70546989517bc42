package config

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/procsim/pkg/faults"
)

// CUEParser reads flowsheets written in CUE or YAML. All sources of one
// Parse call are unified, so a flowsheet may be split across files, for
// instance fluids in one file and units in another.
type CUEParser struct {
	ctx      *cue.Context
	schemas  *SchemaRegistry
	validate *validator.Validate
}

// NewCUEParser creates a parser with the built-in flowsheet schemas.
func NewCUEParser() *CUEParser {
	return &CUEParser{
		ctx:      cuecontext.New(),
		schemas:  NewSchemaRegistry(),
		validate: validator.New(),
	}
}

// Load parses the sources and returns the flowsheet, or a configuration
// error listing every problem found.
func (cp *CUEParser) Load(ctx context.Context, sources ...string) (*FlowsheetConfig, error) {
	parsed, err := cp.Parse(ctx, sources)
	if err != nil {
		return nil, err
	}
	return parsed.Result()
}

// Result returns the flowsheet or a configuration error built from Errors.
func (pc *ParsedConfig) Result() (*FlowsheetConfig, error) {
	if len(pc.Errors) == 0 && pc.Flowsheet != nil {
		return pc.Flowsheet, nil
	}
	msgs := make([]string, 0, len(pc.Errors))
	for _, e := range pc.Errors {
		msgs = append(msgs, e.String())
	}
	return nil, faults.NewConfigurationError("invalid flowsheet configuration", nil).
		WithCode(faults.ErrCodeInvalidParameter).
		WithOperation("load").
		WithDetail("errors", msgs)
}

// String formats the error as file:line:col: path: message, leaving out
// the parts that are unknown.
func (ve ValidationError) String() string {
	var b strings.Builder
	if ve.File != "" {
		b.WriteString(ve.File)
		if ve.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", ve.Line, ve.Column)
		}
		b.WriteString(": ")
	}
	if ve.Path != "" {
		b.WriteString(ve.Path)
		b.WriteString(": ")
	}
	b.WriteString(ve.Message)
	return b.String()
}

// Parse reads flowsheet sources: .cue files, .yaml or .yml files, or
// directories holding a CUE package. Problems with the content are reported
// in ParsedConfig.Errors; the error return is for sources that cannot be
// found at all.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*ParsedConfig, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no flowsheet sources given")
	}

	pc := &ParsedConfig{ParsedAt: time.Now()}
	var merged cue.Value
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(src)
		if err != nil {
			return nil, fmt.Errorf("flowsheet source %s: %w", src, err)
		}

		val, files, errs := cp.loadSource(src, info.IsDir())
		pc.SourceFiles = append(pc.SourceFiles, files...)
		pc.Errors = append(pc.Errors, errs...)
		switch {
		case !val.Exists():
		case merged.Exists():
			merged = merged.Unify(val)
		default:
			merged = val
		}
	}
	if len(pc.Errors) > 0 {
		return pc, nil
	}
	if err := merged.Err(); err != nil {
		pc.Errors = cueErrors(err)
		return pc, nil
	}

	cp.decode(ctx, merged, pc)
	return pc, nil
}

// ParseInline parses CUE text that did not come from a file.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*ParsedConfig, error) {
	pc := &ParsedConfig{SourceFiles: []string{"inline"}, ParsedAt: time.Now()}
	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		pc.Errors = cueErrors(err)
		return pc, nil
	}
	cp.decode(ctx, val, pc)
	return pc, nil
}

// ParseYAML parses a YAML document that did not come from a file, such as
// the output of MarshalYAML.
func (cp *CUEParser) ParseYAML(ctx context.Context, content []byte) (*ParsedConfig, error) {
	pc := &ParsedConfig{SourceFiles: []string{"inline"}, ParsedAt: time.Now()}
	val, errs := cp.compileYAML("inline", content)
	if len(errs) > 0 {
		pc.Errors = errs
		return pc, nil
	}
	cp.decode(ctx, val, pc)
	return pc, nil
}

// loadSource compiles one source into a CUE value and names the files it
// was read from.
func (cp *CUEParser) loadSource(src string, dir bool) (cue.Value, []string, []ValidationError) {
	if dir {
		insts := load.Instances([]string{src}, nil)
		if len(insts) == 0 {
			return cue.Value{}, nil, []ValidationError{fileError(src, "no CUE files found")}
		}
		inst := insts[0]
		if inst.Err != nil {
			return cue.Value{}, nil, cueErrors(inst.Err)
		}
		files := make([]string, 0, len(inst.Files))
		for _, f := range inst.Files {
			if f.Filename != "" {
				files = append(files, f.Filename)
			}
		}
		val := cp.ctx.BuildInstance(inst)
		if err := val.Err(); err != nil {
			return cue.Value{}, files, cueErrors(err)
		}
		return val, files, nil
	}

	content, err := os.ReadFile(src)
	if err != nil {
		return cue.Value{}, []string{src}, []ValidationError{fileError(src, "cannot read: "+err.Error())}
	}
	if isYAML(src) {
		val, errs := cp.compileYAML(src, content)
		return val, []string{src}, errs
	}
	val := cp.ctx.CompileBytes(content, cue.Filename(src))
	if err := val.Err(); err != nil {
		return cue.Value{}, []string{src}, cueErrors(err)
	}
	return val, []string{src}, nil
}

// compileYAML encodes a YAML document as a CUE value so it unifies with
// CUE sources and goes through the same schema.
func (cp *CUEParser) compileYAML(name string, content []byte) (cue.Value, []ValidationError) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return cue.Value{}, []ValidationError{fileError(name, "invalid YAML: "+err.Error())}
	}
	val := cp.ctx.Encode(doc)
	if err := val.Err(); err != nil {
		errs := cueErrors(err)
		for i := range errs {
			errs[i].File = name
		}
		return cue.Value{}, errs
	}
	return val, nil
}

// decode reads the flowsheet out of val into pc, from a top-level
// "flowsheet" field when there is one and from the root otherwise, and
// checks it against the schema and the struct tags.
func (cp *CUEParser) decode(ctx context.Context, val cue.Value, pc *ParsedConfig) {
	prefix := ""
	if nested := val.LookupPath(cue.ParsePath("flowsheet")); nested.Exists() {
		val = nested
		prefix = "flowsheet."
	}

	var cfg FlowsheetConfig
	if err := val.Decode(&cfg); err != nil {
		pc.Errors = append(pc.Errors, cueErrors(err)...)
		return
	}

	var errs []ValidationError
	if err := cp.schemas.validate("flowsheet", &cfg); err != nil {
		errs = append(errs, cueErrors(err)...)
	}
	if err := cp.validate.StructCtx(ctx, &cfg); err != nil {
		errs = append(errs, tagErrors(err)...)
	}
	for i := range errs {
		if errs[i].Path != "" {
			errs[i].Path = prefix + errs[i].Path
		}
	}
	pc.Errors = append(pc.Errors, errs...)
	if len(pc.Errors) == 0 {
		pc.Flowsheet = &cfg
	}
}

func fileError(file, msg string) ValidationError {
	return ValidationError{File: file, Message: msg, Severity: "error"}
}

// cueErrors flattens a CUE error list, keeping the first position of each.
func cueErrors(err error) []ValidationError {
	list := errors.Errors(err)
	out := make([]ValidationError, 0, len(list))
	for _, e := range list {
		ve := ValidationError{
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: "error",
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File, ve.Line, ve.Column = pos[0].Filename(), pos[0].Line(), pos[0].Column()
		}
		out = append(out, ve)
	}
	return out
}

// tagErrors maps struct-tag failures onto flowsheet paths.
func tagErrors(err error) []ValidationError {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Message: err.Error(), Severity: "error"}}
	}
	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		_, path, _ := strings.Cut(fe.Namespace(), ".")
		msg := fmt.Sprintf("failed %q constraint", fe.Tag())
		if fe.Param() != "" {
			msg += " (" + fe.Param() + ")"
		}
		out = append(out, ValidationError{Path: path, Message: msg, Severity: "error"})
	}
	return out
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// FindSources lists the flowsheet files below dir in lexical order.
func FindSources(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && (filepath.Ext(path) == ".cue" || isYAML(path)) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching %s for flowsheets: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
