// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package main

import (
	"crypto/subtle"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/openchami/authcore/middleware"
	"github.com/openchami/authcore/pkg/keys"
	"github.com/openchami/authcore/pkg/session"
	"github.com/openchami/authcore/pkg/token"
)

func main() {
	// Generate a throwaway signing key
	km, err := keys.GenerateKeyPair()
	if err != nil {
		log.Fatal(err)
	}
	engine := token.NewEngine(keys.NewStaticStore(km))

	// Issue a test token
	tokenString, err := engine.Create(map[string]interface{}{
		"id":    "user123",
		"name":  "John Doe",
		"email": "john@example.com",
	}, time.Hour)
	if err != nil {
		log.Fatal(err)
	}

	// A second strategy: a static API key for automation
	apiKey := os.Getenv("EXAMPLE_API_KEY")
	apiKeyStrategy := session.StrategyFunc(func(r *http.Request) (session.Claims, error) {
		got := r.Header.Get("X-API-Key")
		if apiKey == "" || got == "" {
			return nil, nil
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
			return nil, fmt.Errorf("api key mismatch")
		}
		return session.Claims{"id": "automation"}, nil
	})

	resolver, err := session.NewResolver(
		session.Descriptor{Name: "api-key", Kind: session.KindCustom, Active: true, Priority: 0, Strategy: apiKeyStrategy},
		session.Descriptor{Name: "jwt", Kind: session.KindJWT, Active: true, Priority: 10, Strategy: session.JWTStrategy(engine)},
	)
	if err != nil {
		log.Fatal(err)
	}

	// Create a chi router
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	// Public routes
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Welcome to the API"))
	})

	// Any strategy
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(resolver))

		r.Get("/protected", func(w http.ResponseWriter, r *http.Request) {
			s, _ := middleware.SessionFromContext(r.Context())
			_, _ = fmt.Fprintf(w, "Protected route accessed via %v\n", s.Strategies)
		})

		// Bearer tokens only
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireStrategy("jwt"))

			r.Post("/write", func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("Write access granted"))
			})
		})
	})

	fmt.Printf("Test token: %s\n", tokenString)
	fmt.Println("\nTest the endpoints:")
	fmt.Println("1. Protected route:")
	fmt.Println("   curl -H \"Authorization: Bearer YOUR_TOKEN\" http://localhost:8080/protected")
	fmt.Println("\n2. Protected route with an API key (set EXAMPLE_API_KEY):")
	fmt.Println("   curl -H \"X-API-Key: $EXAMPLE_API_KEY\" http://localhost:8080/protected")
	fmt.Println("\n3. Bearer-only route:")
	fmt.Println("   curl -X POST -H \"Authorization: Bearer YOUR_TOKEN\" http://localhost:8080/write")

	log.Println("Server starting on :8080")
	srv := &http.Server{Addr: ":8080", Handler: r, ReadHeaderTimeout: 10 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}
