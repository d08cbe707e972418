package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gatehouse/server/internal/config"
)

func writeDoorsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doors.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDoors(t *testing.T) {
	path := writeDoorsFile(t, `
doors:
  - name: north-gate
    host: 10.0.30.4
    username: admin
    password: secret
    employee_no: "500033"
  - name: south-gate
    host: 10.0.30.5
    username: admin
    password: secret
    employee_no: "500033"
`)

	doors, err := config.LoadDoors(path)
	if err != nil {
		t.Fatalf("LoadDoors: %v", err)
	}
	if len(doors) != 2 {
		t.Fatalf("got %d doors, want 2", len(doors))
	}
	if doors[0].Name != "north-gate" || doors[0].Host != "10.0.30.4" {
		t.Errorf("unexpected first door: %+v", doors[0])
	}
	if doors[1].EmployeeNo != "500033" {
		t.Errorf("unexpected employee_no: %q", doors[1].EmployeeNo)
	}
}

func TestLoadDoors_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"empty", "doors: []\n"},
		{"missing name", "doors:\n  - host: 10.0.0.1\n    employee_no: \"1\"\n"},
		{"missing host", "doors:\n  - name: gate\n    employee_no: \"1\"\n"},
		{"bad employee_no", "doors:\n  - name: gate\n    host: 10.0.0.1\n    employee_no: \"abc\"\n"},
		{"duplicate name", `
doors:
  - {name: gate, host: 10.0.0.1, employee_no: "1"}
  - {name: gate, host: 10.0.0.2, employee_no: "1"}
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeDoorsFile(t, tc.content)
			if _, err := config.LoadDoors(path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadDoors_MissingFile(t *testing.T) {
	if _, err := config.LoadDoors(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
