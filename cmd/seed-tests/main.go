package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/jobportal-backend/internal/config"
	"github.com/stemsi/jobportal-backend/internal/database"
	"github.com/stemsi/jobportal-backend/internal/logger"
	"github.com/stemsi/jobportal-backend/internal/model"
	"github.com/stemsi/jobportal-backend/internal/repository"
	"github.com/stemsi/jobportal-backend/internal/service"
)

func main() {
	var (
		file       string
		role       string
		candidates string
		replace    string
	)
	flag.StringVar(&file, "file", "", "JSON file with a test (role + questions); a demo test is used when empty")
	flag.StringVar(&role, "role", "Frontend Developer", "role of the demo test")
	flag.StringVar(&candidates, "candidates", "1", "comma-separated candidate IDs to assign the test to")
	flag.StringVar(&replace, "replace", "", "ID of an existing test whose questions are replaced instead of creating a new test")
	flag.Parse()

	// When replacing, candidates are only (re)assigned if asked for explicitly.
	assign := replace == ""
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "candidates" {
			assign = true
		}
	})

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ids, err := parseIDs(candidates)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid --candidates")
	}

	test := demoTest(role)
	if file != "" {
		if test, err = readTest(file); err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("Failed to read test file")
		}
	}

	stores, err := database.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open stores")
	}
	defer stores.Close()

	repo := repository.NewTestRepository(stores.Pool)
	auth := service.NewAuthService(cfg)
	provider := service.NewTestProvider(auth, repo, stores.Redis, cfg.TestCacheTTL, log)

	if replace != "" {
		test.ID = replace
		if err := repo.ReplaceQuestions(ctx, test); err != nil {
			log.Fatal().Err(err).Str("test_id", replace).Msg("Failed to replace test")
		}
		// Running servers would otherwise keep serving the old questions until the TTL.
		if err := provider.Invalidate(ctx, uuid.MustParse(test.ID)); err != nil {
			log.Warn().Err(err).Str("test_id", test.ID).Msg("Cached test not invalidated")
		}
	} else if err := repo.CreateTest(ctx, test); err != nil {
		log.Fatal().Err(err).Msg("Failed to create test")
	}
	testID := uuid.MustParse(test.ID)

	if replace != "" {
		fmt.Println("=== Replaced test ===")
	} else {
		fmt.Println("=== Seeded test ===")
	}
	fmt.Printf("ID:        %s\n", test.ID)
	fmt.Printf("Role:      %s\n", test.Role)
	fmt.Printf("Questions: %d (%d seconds)\n\n", len(test.Questions), test.TotalDuration())

	if !assign {
		return
	}
	for _, id := range ids {
		if _, err := repo.Assign(ctx, testID, id); err != nil {
			log.Fatal().Err(err).Int("candidate_id", id).Msg("Failed to assign test")
		}
		token, err := auth.GenerateCandidateToken(id)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to sign token")
		}
		fmt.Printf("candidate %d: %s\n", id, token)
	}
}

func parseIDs(raw string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("bad candidate id %q", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no candidate ids")
	}
	return ids, nil
}

func readTest(path string) (*model.Test, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var test model.Test
	if err := json.Unmarshal(raw, &test); err != nil {
		return nil, err
	}
	if len(test.Questions) == 0 {
		return nil, fmt.Errorf("test has no questions")
	}
	for i, q := range test.Questions {
		if len(q.Options) == 0 || q.CorrectOption < 0 || q.CorrectOption >= len(q.Options) {
			return nil, fmt.Errorf("question %d: correctOption out of range", i+1)
		}
	}
	return &test, nil
}

func demoTest(role string) *model.Test {
	return &model.Test{
		Role: role,
		Questions: []model.Question{
			{
				Question:      "Which HTTP status code means the resource was created?",
				Options:       []string{"200", "201", "204", "302"},
				CorrectOption: 1,
				Duration:      30,
			},
			{
				Question:      "Which CSS property controls the stacking order of elements?",
				Options:       []string{"order", "position", "z-index", "float"},
				CorrectOption: 2,
				Duration:      30,
			},
			{
				Question:      "What does the `defer` keyword do in Go?",
				Options:       []string{"Runs a call when the surrounding function returns", "Starts a goroutine", "Skips a loop iteration", "Declares a constant"},
				CorrectOption: 0,
				Duration:      45,
			},
			{
				Question:      "Which SQL clause filters grouped rows?",
				Options:       []string{"WHERE", "HAVING", "ORDER BY", "LIMIT"},
				CorrectOption: 1,
			},
		},
	}
}
