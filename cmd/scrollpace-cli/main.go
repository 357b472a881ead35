package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/scrollpace/scrollpace/internal/auth"
	"github.com/scrollpace/scrollpace/internal/config"
	"github.com/scrollpace/scrollpace/internal/db"
	"github.com/scrollpace/scrollpace/internal/store"
)

func main() {
	migrateOnly := flag.Bool("migrate", false, "run database migrations and exit")
	addUser := flag.String("add-user", "", "create a user with the given username")
	password := flag.String("password", "", "password for the new user")
	role := flag.String("role", "user", "role for the new user (admin or user)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	if *migrateOnly {
		fmt.Println("Migrations applied successfully.")
		return
	}

	if *addUser != "" {
		if *password == "" {
			log.Fatal("A password is required when creating a user.")
		}
		if *role != "admin" && *role != "user" {
			log.Fatalf("Invalid role %q: must be admin or user", *role)
		}

		passwordHash, err := auth.HashPassword(*password)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		if _, err := store.New(database).CreateUser(*addUser, passwordHash, *role); err != nil {
			log.Fatalf("Failed to create user: %v", err)
		}
		fmt.Printf("User %q created with role %q.\n", *addUser, *role)
		return
	}

	flag.Usage()
	os.Exit(1)
}
