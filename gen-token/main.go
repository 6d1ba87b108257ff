// Command gen-token prints HS256 tokens accepted by the tracker when it runs
// with AUTH_MODE=test.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"prism-tracker/api"
)

func main() {
	flags := pflag.NewFlagSet("gen-token", pflag.ExitOnError)
	count := flags.Int("count", 1, "number of tokens to generate")
	prefix := flags.String("prefix", "perf-user", "prefix for generated user IDs when count > 1")
	start := flags.Int("start", 1, "starting index for generated user IDs when count > 1")
	ttl := flags.Duration("ttl", time.Hour, "token lifetime")
	output := flags.String("output", "", "file to write generated tokens as a JSON array")
	_ = flags.Parse(os.Args[1:])

	secret := os.Getenv("TEST_JWT_SECRET")
	if secret == "" {
		log.Fatal("TEST_JWT_SECRET must be set")
	}
	if *count < 1 {
		log.Fatal("count must be at least 1")
	}
	if *start < 1 {
		log.Fatal("start index must be at least 1")
	}
	args := flags.Args()
	if len(args) > 0 && *count > 1 {
		log.Fatal("explicit user ID cannot be provided when generating multiple tokens")
	}

	tokens := make([]string, *count)
	for i := range tokens {
		userID := *prefix
		switch {
		case len(args) > 0:
			userID = args[0]
		case *count > 1:
			userID = fmt.Sprintf("%s-%d", *prefix, *start+i)
		}
		tok, err := api.SignTestToken([]byte(secret), userID, *ttl)
		if err != nil {
			log.Fatalf("generate token: %v", err)
		}
		tokens[i] = tok
	}

	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}
	fmt.Print(tokens[0])
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
