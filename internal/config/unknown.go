package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys maps each section to the keys valid inside it.
var knownKeys = map[string][]string{
	"server":  {"listen", "public_url", "event_timeout", "shutdown_timeout"},
	"line":    {"channel_secret", "channel_token", "api_base_url", "data_base_url", "max_content_size"},
	"oauth":   {"client_id", "client_secret", "tenant", "redirect_url", "scopes", "default_token_ttl", "refresh_timeout"},
	"state":   {"secret", "ttl", "redis_addr", "redis_password", "redis_db"},
	"store":   {"driver", "dsn"},
	"policy":  {"membership_window", "upload_timeout", "fanout_workers"},
	"storage": {"folder", "graph_base_url"},
	"logging": {"log_level", "log_file", "log_format"},
	"network": {"connect_timeout", "request_timeout", "user_agent"},
}

// knownSections is the sorted section list, sorted for deterministic
// suggestions when two candidates tie.
var knownSections = func() []string {
	sections := make([]string, 0, len(knownKeys))
	for s := range knownKeys {
		sections = append(sections, s)
	}

	sort.Strings(sections)

	return sections
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	reported := make(map[string]bool)

	for _, key := range md.Undecoded() {
		section, field := splitKey(key)

		// An unknown section reports once, not once per key inside it.
		if _, ok := knownKeys[section]; !ok {
			if reported[section] {
				continue
			}

			reported[section] = true
			errs = append(errs, unknownKeyError(section, "", knownSections))

			continue
		}

		if field == "" {
			continue
		}

		errs = append(errs, unknownKeyError(field, section, knownKeys[section]))
	}

	return errors.Join(errs...)
}

func splitKey(key toml.Key) (section, field string) {
	switch len(key) {
	case 0:
		return "", ""
	case 1:
		return key[0], ""
	default:
		return key[0], key[1]
	}
}

func unknownKeyError(name, section string, candidates []string) error {
	label := name
	if section != "" {
		label = section + "." + name
	}

	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)

	if suggestion := closestMatch(name, sorted); suggestion != "" {
		if section != "" {
			suggestion = section + "." + suggestion
		}

		return fmt.Errorf("unknown config key %q: did you mean %q?", label, suggestion)
	}

	return fmt.Errorf("unknown config key %q", label)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(strings.ToLower(unknown), k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
