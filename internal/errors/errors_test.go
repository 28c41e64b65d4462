package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{
			name:    "unbalanced group",
			code:    CodeUnbalancedGroup,
			wantMsg: "Unbalanced group",
			wantCat: CategoryStructure,
		},
		{
			name:    "stale handle",
			code:    CodeStaleHandle,
			wantMsg: "Stale state handle",
			wantCat: CategoryState,
		},
		{
			name:    "config not found",
			code:    CodeConfigNotFound,
			wantMsg: "Configuration file not found",
			wantCat: CategoryConfig,
		},
		{
			name:    "unknown error code",
			code:    "E999",
			wantMsg: "Unknown error",
			wantCat: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
			if err.Category != tt.wantCat {
				t.Errorf("Category = %q, want %q", err.Category, tt.wantCat)
			}
			if err.Code != tt.code {
				t.Errorf("Code = %q, want %q", err.Code, tt.code)
			}
		})
	}
}

func TestComposeError_Error(t *testing.T) {
	err := New(CodeDanglingNodeRead)
	want := "E002: Node read at a slot that holds no node"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	err2 := &ComposeError{Message: "plain"}
	if err2.Error() != "plain" {
		t.Errorf("Error() = %q, want %q", err2.Error(), "plain")
	}

	err3 := New(CodeNodeMissing).Wrap(fmt.Errorf("id 7"))
	if !strings.HasSuffix(err3.Error(), ": id 7") {
		t.Errorf("wrapped cause missing from %q", err3.Error())
	}
}

func TestIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeUnbalancedGroup)
	err := fmt.Errorf("pass 3: %w", New(CodeUnbalancedGroup).WithDetail("end without start"))

	if !stderrors.Is(err, sentinel) {
		t.Error("expected errors.Is to match by code")
	}
	if stderrors.Is(err, New(CodeDanglingNodeRead)) {
		t.Error("expected different codes not to match")
	}
	if stderrors.Is(err, &ComposeError{Message: "no code"}) {
		t.Error("expected codeless target not to match")
	}
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeStaleHandle))
	if got := CodeOf(err); got != CodeStaleHandle {
		t.Errorf("CodeOf = %q, want %q", got, CodeStaleHandle)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil, CodeConfigInvalid) != nil {
		t.Error("expected nil for nil error")
	}

	orig := New(CodeNodeMissing)
	if FromError(orig, CodeConfigInvalid) != orig {
		t.Error("expected existing ComposeError to be returned as is")
	}

	base := fmt.Errorf("boom")
	got := FromError(base, CodeConfigInvalid)
	if got.Code != CodeConfigInvalid {
		t.Errorf("Code = %q, want %q", got.Code, CodeConfigInvalid)
	}
	if !stderrors.Is(got, base) {
		t.Error("expected wrapped error to be reachable")
	}
}

func TestWithLocationReadsContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.go")
	src := "line1\nline2\nline3\nline4\nline5\nline6\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	err := New(CodeStructuralMismatch).WithLocation(path, 3, 0)
	if err.Location.String() != path+":3" {
		t.Errorf("Location = %q", err.Location.String())
	}
	if len(err.Context) != 5 {
		t.Fatalf("expected 5 context lines, got %d", len(err.Context))
	}
	if err.Context[0] != "line1" || err.Context[4] != "line5" {
		t.Errorf("unexpected context %v", err.Context)
	}
}

func TestFormat(t *testing.T) {
	DisableColors()
	defer EnableColors()

	err := New(CodeStructuralMismatch).
		WithSuggestion("wrap it in a group").
		WithExample("c.WithGroup(k, body)")
	out := err.Format()

	for _, want := range []string{"WARN ", "E003", "Hint: wrap it in a group", "c.WithGroup(k, body)", "Learn more:"} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q:\n%s", want, out)
		}
	}

	fatal := New(CodeUnbalancedGroup).Format()
	if !strings.Contains(fatal, "ERROR ") {
		t.Errorf("expected ERROR label, got %q", fatal)
	}
}

func TestFormatCompact(t *testing.T) {
	err := New(CodeDanglingNodeRead)
	err.Location = &Location{File: "a.go", Line: 4, Column: 2}
	want := "a.go:4:2: E002: Node read at a slot that holds no node"
	if got := err.FormatCompact(); got != want {
		t.Errorf("FormatCompact() = %q, want %q", got, want)
	}
}

func TestMarshalJSON(t *testing.T) {
	err := New(CodeNodeMissing).Wrap(fmt.Errorf("id 9"))
	data, jerr := json.Marshal(err)
	if jerr != nil {
		t.Fatal(jerr)
	}
	var got map[string]any
	if jerr := json.Unmarshal(data, &got); jerr != nil {
		t.Fatal(jerr)
	}
	if got["code"] != CodeNodeMissing {
		t.Errorf("code = %v", got["code"])
	}
	if got["cause"] != "id 9" {
		t.Errorf("cause = %v", got["cause"])
	}
}

func TestRegistryComplete(t *testing.T) {
	for _, code := range GetAllCodes() {
		tmpl, ok := GetTemplate(code)
		if !ok {
			t.Fatalf("missing template for %s", code)
		}
		if tmpl.Message == "" {
			t.Errorf("%s has no message", code)
		}
		if tmpl.Category == "" {
			t.Errorf("%s has no category", code)
		}
	}

	Register("E998", ErrorTemplate{Category: CategoryRuntime, Message: "custom"})
	if New("E998").Message != "custom" {
		t.Error("expected registered template to be used")
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText("one two three four five six", 10)
	for _, l := range lines {
		if len(l) > 10 {
			t.Errorf("line %q longer than width", l)
		}
	}
	if strings.Join(lines, " ") != "one two three four five six" {
		t.Errorf("wrapText lost words: %v", lines)
	}
}
