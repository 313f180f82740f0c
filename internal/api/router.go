package api

import (
	"database/sql"
	"net/http"
	"strings"

	"log/slog"

	"github.com/sna-ai/sna/internal/auth"
	"github.com/sna-ai/sna/internal/database"
	"github.com/sna-ai/sna/internal/dedup"
	"github.com/sna-ai/sna/internal/metrics"
	"github.com/sna-ai/sna/internal/scheduler"
	"github.com/sna-ai/sna/internal/scraper"
	"github.com/sna-ai/sna/internal/summarizer"
	"github.com/sna-ai/sna/internal/taskregistry"
)

// SetupRoutes configures all API routes
func SetupRoutes(mux *http.ServeMux, db *sql.DB, tweetRepo *database.TweetRepository, summaryRepo *database.SummaryRepository, dedupRepo *database.DedupRepository, followRepo *database.FollowRepository, filterRepo *database.FilterRepository, userRepo *database.UserRepository, runRepo *database.RunRepository, tasks *taskregistry.Registry, coordinator *scraper.Coordinator, engine *dedup.Engine, summarySvc *summarizer.Summarizer, sched *scheduler.ScraperScheduler, collector *metrics.Collector, authSvc *auth.Service, logger *slog.Logger) {
	handler := NewHandler(tweetRepo, summaryRepo, dedupRepo, filterRepo, db, sched, logger)
	scrapeHandler := NewScrapeHandler(coordinator, tasks, runRepo, logger)
	dedupHandler := NewDedupHandler(engine, dedupRepo, tasks, logger)
	summaryHandler := NewSummaryHandler(summarySvc, summaryRepo, tasks, logger)
	followsHandler := NewFollowsHandler(followRepo, logger)
	scheduleHandler := NewScheduleHandler(sched, logger)
	usersHandler := NewUsersHandler(userRepo, followRepo, filterRepo, logger)
	adminHandler := NewAdminHandler(userRepo, logger)
	authHandler := NewAuthHandler(authSvc, logger)

	// Auth middleware tiers. "User" needs a real account: the bootstrap
	// admin key clears the admin tier only and is rejected everywhere else.
	requireUser := func(h http.HandlerFunc) http.Handler { return authSvc.Authenticate(authSvc.RequireUser(h)) }
	requireAdmin := func(h http.HandlerFunc) http.Handler { return authSvc.Authenticate(authSvc.RequireAdmin(h)) }

	// Health and metrics (public)
	mux.HandleFunc("/health", handler.Health)
	mux.Handle("/metrics", collector.Handler())

	// Authentication routes (public)
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		authHandler.Login(w, r)
	})

	// Tweet and feed routes
	mux.HandleFunc("/api/tweets", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		requireUser(handler.ListTweets).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/tweets/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tweets/" {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		requireUser(handler.GetTweet).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/feed", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		requireUser(handler.GetFeed).ServeHTTP(w, r)
	})

	// Scrape task routes
	mux.HandleFunc("/api/admin/scrape", func(w http.ResponseWriter, r *http.Request) {
		requireUser(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost:
				scrapeHandler.Enqueue(w, r)
			case http.MethodGet:
				scrapeHandler.List(w, r)
			default:
				writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		}).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/admin/scrape/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/admin/scrape/" {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		requireUser(func(w http.ResponseWriter, r *http.Request) {
			// Run history sits beside the task ids.
			if r.URL.Path == "/api/admin/scrape/runs" {
				if r.Method != http.MethodGet {
					writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
					return
				}
				scrapeHandler.ListRuns(w, r)
				return
			}
			switch r.Method {
			case http.MethodGet:
				scrapeHandler.Get(w, r)
			case http.MethodDelete:
				scrapeHandler.Delete(w, r)
			default:
				writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		}).ServeHTTP(w, r)
	})

	// Deduplication routes
	mux.HandleFunc("/api/deduplicate/batch", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		requireUser(dedupHandler.EnqueueBatch).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/deduplicate/groups/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/deduplicate/groups/" {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		requireUser(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				dedupHandler.GetGroup(w, r)
			case http.MethodDelete:
				dedupHandler.DeleteGroup(w, r)
			default:
				writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		}).ServeHTTP(w, r)
	})

	// Summary routes
	mux.HandleFunc("/api/summaries/batch", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		requireUser(summaryHandler.EnqueueBatch).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/summaries/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		requireUser(summaryHandler.Stats).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/summaries/tweets/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/summaries/tweets/" {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		requireUser(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/regenerate") {
				summaryHandler.Regenerate(w, r)
				return
			}
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}
			summaryHandler.GetByTweet(w, r)
		}).ServeHTTP(w, r)
	})

	// Self-service user routes (real account required)
	mux.HandleFunc("/api/users/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		requireUser(usersHandler.Me).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/users/me/password", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		requireUser(usersHandler.ChangePassword).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/users/me/api-keys", func(w http.ResponseWriter, r *http.Request) {
		requireUser(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				usersHandler.ListAPIKeys(w, r)
			case http.MethodPost:
				usersHandler.CreateAPIKey(w, r)
			default:
				writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		}).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/users/me/api-keys/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		requireUser(usersHandler.DeleteAPIKey).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/users/me/follows", func(w http.ResponseWriter, r *http.Request) {
		requireUser(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				usersHandler.ListFollows(w, r)
			case http.MethodPost:
				usersHandler.AddFollow(w, r)
			default:
				writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		}).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/users/me/follows/", func(w http.ResponseWriter, r *http.Request) {
		requireUser(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPut:
				usersHandler.UpdateFollow(w, r)
			case http.MethodDelete:
				usersHandler.RemoveFollow(w, r)
			default:
				writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		}).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/users/me/filters", func(w http.ResponseWriter, r *http.Request) {
		requireUser(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				usersHandler.ListFilters(w, r)
			case http.MethodPost:
				usersHandler.AddFilter(w, r)
			default:
				writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		}).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/users/me/filters/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		requireUser(usersHandler.DeleteFilter).ServeHTTP(w, r)
	})

	// Platform follow list routes (admin only)
	mux.HandleFunc("/api/admin/scraping/follows", func(w http.ResponseWriter, r *http.Request) {
		requireAdmin(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				followsHandler.List(w, r)
			case http.MethodPost:
				followsHandler.Add(w, r)
			default:
				writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		}).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/admin/scraping/follows/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/admin/scraping/follows/" {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		requireAdmin(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPut:
				followsHandler.Update(w, r)
			case http.MethodDelete:
				followsHandler.Remove(w, r)
			default:
				writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		}).ServeHTTP(w, r)
	})

	// Schedule control routes (admin only)
	mux.HandleFunc("/api/admin/scraping/schedule", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		requireAdmin(scheduleHandler.Get).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/admin/scraping/schedule/", func(w http.ResponseWriter, r *http.Request) {
		requireAdmin(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/interval") {
				scheduleHandler.UpdateInterval(w, r)
				return
			}
			if r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/next-run") {
				scheduleHandler.SetNextRun(w, r)
				return
			}
			if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/enable") {
				scheduleHandler.Enable(w, r)
				return
			}
			if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/disable") {
				scheduleHandler.Disable(w, r)
				return
			}
			writeError(w, http.StatusNotFound, "Not found")
		}).ServeHTTP(w, r)
	})

	// User management routes (admin only)
	mux.HandleFunc("/api/admin/users", func(w http.ResponseWriter, r *http.Request) {
		requireAdmin(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost:
				adminHandler.CreateUser(w, r)
			case http.MethodGet:
				adminHandler.ListUsers(w, r)
			default:
				writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		}).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/admin/users/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/admin/users/" {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		requireAdmin(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/reset-password") {
				adminHandler.ResetPassword(w, r)
				return
			}
			if r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/active") {
				adminHandler.SetActive(w, r)
				return
			}
			writeError(w, http.StatusNotFound, "Not found")
		}).ServeHTTP(w, r)
	})

	// Unmatched API paths get the JSON error envelope, not the default page.
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
}
