package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/mail"
	"os"
	"strings"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/sna-ai/sna/internal/auth"
	"github.com/sna-ai/sna/internal/database"
	"github.com/sna-ai/sna/internal/models"
)

// Seeds the first admin account so the REST API can be used without the
// synthetic admin key. Safe to re-run: an existing email aborts with a
// message instead of overwriting.

func main() {
	_ = godotenv.Load()

	email := flag.String("email", os.Getenv("ADMIN_EMAIL"), "admin account email")
	password := flag.String("password", os.Getenv("ADMIN_PASSWORD"), "admin account password (min 8 chars)")
	flag.Parse()

	*email = strings.ToLower(strings.TrimSpace(*email))
	if *email == "" || *password == "" {
		log.Fatal("both -email and -password are required (or ADMIN_EMAIL / ADMIN_PASSWORD)")
	}
	if _, err := mail.ParseAddress(*email); err != nil {
		log.Fatalf("invalid email %q: %v", *email, err)
	}
	if len(*password) < 8 {
		log.Fatal("password must be at least 8 characters")
	}

	dbURL, err := database.BuildDatabaseURL()
	if err != nil {
		log.Fatalf("failed to build database URL: %v", err)
	}
	cfg := database.DefaultConfig()
	cfg.URL = dbURL

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	user := &models.User{
		Email:        *email,
		PasswordHash: hash,
		IsAdmin:      true,
		IsActive:     true,
	}
	if err := database.NewUserRepository(db).CreateUser(ctx, user); err != nil {
		if database.IsUniqueViolation(err) {
			log.Fatalf("user %s already exists, not touching it", *email)
		}
		log.Fatalf("failed to create user: %v", err)
	}

	fmt.Printf("admin user created: id=%d email=%s\n", user.ID, user.Email)
	fmt.Println("log in via POST /api/auth/login to obtain a token")
}
