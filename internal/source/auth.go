package source

import (
	"math"
	"strconv"
	"strings"
	"time"

	"secdash/internal/model"
)

type user struct {
	username   string
	department string
	group      string
	location   string
	region     string
	address    string
	device     string
	baseLogins float64
}

var directory = []user{
	{"sarah.johnson", "Security Operations", "analyst", "New York, US", "north-america", "192.168.1.45", "MacBook Pro", 1247},
	{"michael.chen", "Development", "developer", "San Francisco, US", "north-america", "10.0.0.123", "iPhone 15", 892},
	{"alex.rodriguez", "IT Administration", "admin", "London, UK", "europe", "185.220.101.42", "Unknown Device", 1456},
	{"emma.wilson", "Data Analytics", "analyst", "Toronto, CA", "north-america", "192.168.2.67", "Windows Laptop", 634},
	{"david.kumar", "Security Operations", "admin", "Mumbai, IN", "asia-pacific", "103.21.58.14", "Android Phone", 1123},
	{"lisa.thompson", "Management", "manager", "Sydney, AU", "asia-pacific", "203.12.45.89", "iPad", 445},
	{"john.doe", "Customer Support", "support", "Berlin, DE", "europe", "85.214.132.45", "Chrome Browser", 512},
	{"suspicious.user", "External", "contractor", "Unknown", "unknown", "tor.exit.node", "Unknown", 37},
}

var authMethods = []string{"password", "mfa", "sso", "biometric", "certificate"}

// UserAccess reports one row per directory user. Category is the user
// group and Value the 0-100 risk score.
type UserAccess struct{}

func (UserAccess) Generate(seed SeedContext) ([]model.Record, error) {
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	users := directory[:seed.limit(len(directory))]
	out := make([]model.Record, 0, len(users))
	for i, u := range users {
		failed := floorN(seed.RNG, 20)
		risk := math.Floor(clamp(failed*4+seed.RNG.Float64()*30, 0, 100))
		logins := u.baseLogins + floorN(seed.RNG, 25)
		online := seed.RNG.Float64() > 0.3
		since := time.Duration(seed.RNG.Float64() * float64(4*time.Hour))
		method := pick(seed.RNG, authMethods)
		measures := map[string]float64{
			"login_count":     logins,
			"failed_attempts": failed,
		}
		for d := 0; d < 7; d++ {
			measures["activity_"+strconv.Itoa(d)] = floorN(seed.RNG, 60) + 25
		}
		out = append(out, model.Record{
			ID:        "user-" + strconv.Itoa(i+1),
			Timestamp: seed.Now.Add(-since),
			Category:  u.group,
			Value:     risk,
			Labels: map[string]string{
				"username":    u.username,
				"department":  u.department,
				"location":    u.location,
				"region":      u.region,
				"auth_method": method,
			},
			Measures: measures,
			Flags: map[string]bool{
				"online":     online,
				"suspicious": risk >= 80 || failed >= 15,
			},
		})
	}
	sortByTime(out)
	return out, nil
}

var authEventTypes = []string{"login", "failed", "mfa_challenge", "password_reset", "logout", "account_locked"}

var eventMethods = map[string][]string{
	"login":          {"Password", "Multi-Factor Auth", "Biometric", "Single Sign-On"},
	"failed":         {"Password"},
	"mfa_challenge":  {"SMS Code", "Authenticator App"},
	"password_reset": {"Email Link"},
	"logout":         {"Manual Logout", "Session Timeout"},
	"account_locked": {"Brute Force"},
}

const defaultAuthEvents = 8

// AuthTimeline emits recent authentication events from the last hour.
// Category is the event type; Value the event risk score.
type AuthTimeline struct{}

func (AuthTimeline) Generate(seed SeedContext) ([]model.Record, error) {
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	n := defaultAuthEvents
	if seed.Count > 0 {
		n = seed.Count
	}
	out := make([]model.Record, 0, n)
	for i := 0; i < n; i++ {
		u := pick(seed.RNG, directory)
		kind := pick(seed.RNG, authEventTypes)
		status, risk := authOutcome(seed.RNG, kind)
		ago := time.Duration(seed.RNG.Float64() * float64(time.Hour))
		out = append(out, model.Record{
			ID:        "auth-" + strconv.Itoa(i+1),
			Timestamp: seed.Now.Add(-ago),
			Category:  kind,
			Value:     risk,
			Labels: map[string]string{
				"username": u.username,
				"location": u.location,
				"region":   u.region,
				"address":  u.address,
				"device":   u.device,
				"method":   pick(seed.RNG, eventMethods[kind]),
				"status":   status,
				"summary":  u.username + " " + strings.ReplaceAll(kind, "_", " "),
			},
			Flags: map[string]bool{"suspicious": status == "suspicious"},
		})
	}
	sortByTime(out)
	return out, nil
}

func authOutcome(rng RNG, kind string) (string, float64) {
	switch kind {
	case "account_locked":
		return "suspicious", 80 + floorN(rng, 21)
	case "failed":
		if rng.Float64() > 0.5 {
			return "suspicious", 80 + floorN(rng, 21)
		}
		return "failed", 40 + floorN(rng, 30)
	default:
		return "success", 10 + floorN(rng, 36)
	}
}
