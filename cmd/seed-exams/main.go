package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/validator"
)

func main() {
	var file string
	flag.StringVar(&file, "file", "seed/exams.example.json", "JSON file holding an array of exam definitions")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	validator.Setup()

	raw, err := os.ReadFile(file)
	if err != nil {
		log.Fatal().Err(err).Str("file", file).Msg("Failed to read exam file")
	}

	var reqs []model.CreateExamRequest
	if err := json.Unmarshal(raw, &reqs); err != nil {
		log.Fatal().Err(err).Msg("Failed to decode exam file")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	examRepo := repository.NewExamRepository(pool)

	fmt.Printf("=== Seeding %d exams from %s ===\n", len(reqs), file)

	successCount := 0
	for i := range reqs {
		req := &reqs[i]
		if err := binding.Validator.ValidateStruct(req); err != nil {
			fmt.Printf("Skipping exam #%d (%s): %v\n", i+1, req.Name, validator.TranslateErrors(err))
			continue
		}

		exam := req.ToExam()
		if err := examRepo.Create(ctx, exam); err != nil {
			fmt.Printf("Error creating exam %q: %v\n", exam.Name, err)
			continue
		}
		successCount++
		fmt.Printf("Created exam %s (%s, %d questions)\n", exam.ID, exam.Name, len(exam.Questions))
	}

	fmt.Printf("\nSeed completed! Successfully added %d/%d exams.\n", successCount, len(reqs))
}
