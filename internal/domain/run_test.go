package domain

import "testing"

func TestRun_Validate(t *testing.T) {
	tests := []struct {
		name    string
		run     Run
		wantErr bool
	}{
		{"valid", Run{Feature: "Add user profile endpoint", Languages: []string{"python"}}, false},
		{"empty feature", Run{Languages: []string{"python"}}, true},
		{"no languages", Run{Feature: "x"}, true},
		{"empty language tag", Run{Feature: "x", Languages: []string{""}}, true},
		{"duplicate language", Run{Feature: "x", Languages: []string{"python", "python"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPlan_Validate(t *testing.T) {
	run := &Run{Feature: "x", Languages: []string{"python", "typescript"}}

	plan := &Plan{Specs: []TestSpec{
		{ID: "t1", Language: "python", Description: "profile GET returns 200"},
		{ID: "t2", Language: "typescript", Description: "client parses profile"},
	}}
	if err := plan.Validate(run); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	bad := &Plan{Specs: []TestSpec{{ID: "t1", Language: "rust", Description: "d"}}}
	if err := bad.Validate(run); err == nil {
		t.Error("Validate() = nil, want error for language outside target set")
	}

	empty := &Plan{}
	if err := empty.Validate(run); err == nil {
		t.Error("Validate() = nil, want error for empty plan")
	}
}

func TestValidPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"tests/test_profile.py", true},
		{"src/profile.ts", true},
		{"", false},
		{"/etc/passwd", false},
		{"../escape.py", false},
		{"a/../../b", false},
		{"a//b", false},
		{".", false},
	}

	for _, tt := range tests {
		if got := ValidPath(tt.path); got != tt.want {
			t.Errorf("ValidPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestContextBundle_ForSpec(t *testing.T) {
	bundle := &ContextBundle{Entries: []ContextEntry{
		{SpecID: "t1", Snippet: "a"},
		{SpecID: "t2", Snippet: "b"},
		{SpecID: "", Snippet: "shared"},
	}}

	got := bundle.ForSpec("t1")
	if len(got) != 2 {
		t.Errorf("ForSpec(t1) count = %d, want 2 (own + shared)", len(got))
	}

	var nilBundle *ContextBundle
	if entries := nilBundle.ForSpec("t1"); entries != nil {
		t.Errorf("nil bundle ForSpec = %v, want nil", entries)
	}
}
