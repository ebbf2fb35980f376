package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/stemsi/lessonpath/internal/config"
	"github.com/stemsi/lessonpath/internal/logger"
	"github.com/stemsi/lessonpath/internal/service"
	"golang.org/x/term"
)

func main() {
	var (
		studentID int
		ttl       time.Duration
		prompt    bool
	)
	flag.IntVar(&studentID, "student", 0, "Student ID to sign the token for")
	flag.DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	flag.BoolVar(&prompt, "prompt", false, "Read the signing secret from the terminal instead of JWT_SECRET")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if studentID <= 0 {
		log.Fatal().Msg("-student must be a positive ID")
	}

	if prompt || os.Getenv("JWT_SECRET") == "" {
		fmt.Fprint(os.Stderr, "JWT secret: ")
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read secret")
		}
		if s := strings.TrimSpace(string(secret)); s != "" {
			cfg.JWTSecret = s
		}
	}

	token, err := service.NewAuthService(cfg).SignStudentToken(studentID, ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}

	fmt.Println(token)
}
