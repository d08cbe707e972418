package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string

	// DB
	Env    string // "dev" | "prod"
	DBPath string // e.g. "./data/gatehouse.db"

	// Doors
	DoorsFile string // YAML file declaring the configured doors

	// Card validity
	CardValidity time.Duration

	// Reconciliation
	SweepInterval  time.Duration
	UsageLookback  time.Duration
	DoorCallBudget time.Duration // per remote call

	// Auth
	PublicKeyPath string // PEM-encoded RSA public key for bearer tokens

	// AllowTestToken enables the tester endpoints, the static "tester"
	// bearer token and caller-supplied validity overrides.  Never enable
	// in prod.
	AllowTestToken bool
}

func FromEnv() Config {
	addr := getenvDefault("GATEHOUSE_HTTP_ADDR", ":3310")

	env := strings.ToLower(getenvDefault("GATEHOUSE_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	return Config{
		HTTPAddr: addr,
		Env:      env,
		DBPath:   getenvDefault("GATEHOUSE_DB_PATH", "./data/gatehouse.db"),

		DoorsFile: getenvDefault("GATEHOUSE_DOORS_FILE", "./doors.yaml"),

		CardValidity: getenvSeconds("GATEHOUSE_CARD_VALIDITY_SECONDS", 180),

		SweepInterval:  getenvSeconds("GATEHOUSE_SWEEP_INTERVAL_SECONDS", 15),
		UsageLookback:  getenvSeconds("GATEHOUSE_USAGE_LOOKBACK_SECONDS", 3600),
		DoorCallBudget: getenvSeconds("GATEHOUSE_DOOR_CALL_BUDGET_SECONDS", 10),

		PublicKeyPath: getenvDefault("GATEHOUSE_PUBLIC_KEY_PATH", "./public.pem"),

		AllowTestToken: strings.EqualFold(os.Getenv("GATEHOUSE_ALLOW_TEST_TOKEN"), "true") ||
			os.Getenv("GATEHOUSE_ALLOW_TEST_TOKEN") == "1",
	}
}

// Door declares one remote access-control endpoint.
type Door struct {
	// Name identifies the door in logs, errors and API responses.
	Name string `yaml:"name"`

	// Host is the device address, e.g. "10.0.30.4" or "127.0.0.1:3331".
	Host string `yaml:"host"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// EmployeeNo is the vendor-side person record the cards are filed
	// under.  Digits only, per the vendor API.
	EmployeeNo string `yaml:"employee_no"`
}

type doorsFile struct {
	Doors []Door `yaml:"doors"`
}

var employeeNoPattern = regexp.MustCompile(`^[0-9]{1,12}$`)

// LoadDoors reads the door declarations from a single YAML file.  There is
// no discovery or fallback; a missing or invalid file is a startup error.
func LoadDoors(path string) ([]Door, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read doors file: %w", err)
	}

	var f doorsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse doors file %s: %w", path, err)
	}
	if len(f.Doors) == 0 {
		return nil, fmt.Errorf("doors file %s declares no doors", path)
	}

	seen := make(map[string]struct{}, len(f.Doors))
	for i, d := range f.Doors {
		if strings.TrimSpace(d.Name) == "" {
			return nil, fmt.Errorf("doors file %s: door %d has no name", path, i)
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("doors file %s: duplicate door name %q", path, d.Name)
		}
		seen[d.Name] = struct{}{}

		if strings.TrimSpace(d.Host) == "" {
			return nil, fmt.Errorf("doors file %s: door %q has no host", path, d.Name)
		}
		if !employeeNoPattern.MatchString(d.EmployeeNo) {
			return nil, fmt.Errorf("doors file %s: door %q employee_no must be 1-12 digits", path, d.Name)
		}
	}

	return f.Doors, nil
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvSeconds(key string, def int) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return time.Duration(def) * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return time.Duration(def) * time.Second
	}
	return time.Duration(n) * time.Second
}
