package api

import "testing"

func TestDescriptorField(t *testing.T) {
	d := &Descriptor{Name: "Sample", Version: "1.0.0", Author: "jg"}

	tests := []struct {
		field Field
		want  string
	}{
		{FieldName, "Sample"},
		{FieldVersion, "1.0.0"},
		{FieldKind, NotDefined},
		{FieldAuthor, "jg"},
		{FieldCompany, NotDefined},
		{FieldLicense, NotDefined},
	}

	for _, tt := range tests {
		t.Run(tt.field.String(), func(t *testing.T) {
			if got := d.Field(tt.field); got != tt.want {
				t.Errorf("Field(%v) = %q, want %q", tt.field, got, tt.want)
			}
		})
	}
}

func TestDescriptorFieldNil(t *testing.T) {
	var d *Descriptor
	for _, f := range []Field{FieldName, FieldVersion, FieldKind, FieldAuthor, FieldCompany, FieldLicense} {
		if got := d.Field(f); got != InfoNotDefined {
			t.Errorf("nil.Field(%v) = %q, want %q", f, got, InfoNotDefined)
		}
	}
	if got := d.String(); got != InfoNotDefined {
		t.Errorf("nil.String() = %q", got)
	}
}

func TestParseLoadStage(t *testing.T) {
	tests := []struct {
		in      string
		want    LoadStage
		wantErr bool
	}{
		{"PRE_LOAD", PreLoad, false},
		{"normal_load", NormalLoad, false},
		{"post", PostLoad, false},
		{" Normal ", NormalLoad, false},
		{"later", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseLoadStage(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLoadStage(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLoadStage(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoadStageString(t *testing.T) {
	for _, s := range Stages {
		parsed, err := ParseLoadStage(s.String())
		if err != nil || parsed != s {
			t.Errorf("round trip of %v failed: %v, %v", s, parsed, err)
		}
	}
	if LoadStage(9).Valid() {
		t.Error("LoadStage(9).Valid() = true")
	}
}
