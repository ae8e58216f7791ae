package cloudinit

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestGenerateUserData(t *testing.T) {
	tests := []struct {
		name    string
		doc     Document
		wantErr bool
		check   func(t *testing.T, parsed map[string]any)
	}{
		{
			name: "users and packages",
			doc: Document{
				"hostname": "web",
				"packages": []any{"nginx", "curl"},
				"users": []any{
					map[string]any{
						"name":                "ops",
						"ssh_authorized_keys": []any{"ssh-ed25519 AAAA ops@host"},
					},
				},
			},
			check: func(t *testing.T, parsed map[string]any) {
				if parsed["hostname"] != "web" {
					t.Errorf("hostname = %v, want web", parsed["hostname"])
				}
				pkgs, ok := parsed["packages"].([]any)
				if !ok || len(pkgs) != 2 {
					t.Errorf("packages = %v, want 2 entries", parsed["packages"])
				}
			},
		},
		{
			name:    "empty document",
			doc:     Document{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GenerateUserData(tt.doc)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("GenerateUserData() unexpected error: %v", err)
			}

			if !strings.HasPrefix(got, "#cloud-config\n") {
				t.Errorf("user-data must start with #cloud-config header, got %q", got)
			}

			var parsed map[string]any
			if err := yaml.Unmarshal([]byte(strings.TrimPrefix(got, "#cloud-config\n")), &parsed); err != nil {
				t.Fatalf("user-data is not valid YAML: %v", err)
			}
			tt.check(t, parsed)
		})
	}
}

func TestGenerateMetaData(t *testing.T) {
	got, err := GenerateMetaData("web")
	if err != nil {
		t.Fatalf("GenerateMetaData() unexpected error: %v", err)
	}
	want := "instance-id: web\nlocal-hostname: web\n"
	if got != want {
		t.Errorf("GenerateMetaData() = %q, want %q", got, want)
	}

	if _, err := GenerateMetaData(""); err == nil {
		t.Error("expected error for empty name")
	}
}
