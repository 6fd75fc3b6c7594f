package main

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"

	"github.com/shiftpay/lifecycle-api-go/pkg/auth"
	"github.com/shiftpay/lifecycle-api-go/pkg/database"
	"github.com/shiftpay/lifecycle-api-go/pkg/lifecycle"
)

// keygen mints a signed service key and registers it, optionally scoped
// to a subset of rules the caller may trigger.
func main() {
	_ = godotenv.Load(".env", "../.env")

	if len(os.Args) < 2 {
		fmt.Printf("Usage: keygen <callerID> [rule ...]\nRules: %s\n", strings.Join(lifecycle.Rules(), ", "))
		os.Exit(1)
	}

	callerID := os.Args[1]
	rules := os.Args[2:]
	for _, r := range rules {
		if !slices.Contains(lifecycle.Rules(), r) {
			fmt.Printf("Error: unknown rule %q (valid: %s)\n", r, strings.Join(lifecycle.Rules(), ", "))
			os.Exit(1)
		}
	}

	if os.Getenv("API_MASTER_SECRET") == "" {
		fmt.Println("Error: API_MASTER_SECRET not set")
		os.Exit(1)
	}

	key := auth.GenerateHMACKey(callerID)

	db := database.InitDB()
	record := database.ServiceKey{
		Key:          key,
		Name:         callerID,
		RateLimit:    10000,
		AllowedRules: strings.Join(rules, ","),
	}
	if err := db.Where(database.ServiceKey{Key: key}).
		Assign(database.ServiceKey{AllowedRules: record.AllowedRules}).
		FirstOrCreate(&record).Error; err != nil {
		fmt.Printf("Error: could not register key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated service key for %s:\n%s\n", callerID, key)
	if record.AllowedRules != "" {
		fmt.Printf("Scoped to: %s\n", record.AllowedRules)
	} else {
		fmt.Println("Scoped to: all rules")
	}
}
