package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"snapfeed/feeds"
	"snapfeed/models"
	"snapfeed/query"
	"snapfeed/wallet"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cache"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

const (
	maxBatchSize       = 100
	communityCacheTTL  = 10 * time.Minute
	communityCacheSize = 16
)

// SnapSource lists containers, their replies and following lists
type SnapSource interface {
	query.ContainerSource
	query.FollowingSource
}

type CommunitySource interface {
	GetCommunity(ctx context.Context, name string) (*models.Community, error)
}

type ArchiveReader interface {
	feeds.ArchiveReader
	CountPerTime(ctx context.Context, author string, timeAgg string) ([]models.SnapsAggregatedByTime, error)
}

type ServerConfig struct {

	// The hostname to use for the server
	Hostname string

	// Where containers and replies are read from
	Source SnapSource

	// Pager settings shared by all sessions
	Pager feeds.PagerConfig

	// Builds the filter for each session
	Filters feeds.FilterFactory

	// Batch size used when a request has no limit
	PageMinSize int

	Wallet    wallet.HistorySource
	Community CommunitySource

	// Optional, archive routes answer 503 without it
	Archive ArchiveReader

	// Broadcast channel to pass archived snaps to SSE clients
	Broadcaster *Broadcaster

	Sessions *Registry
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Returns a fiber.App instance to be used as an HTTP server for the snaps feed
func Server(config *ServerConfig) *fiber.App {
	if config.Sessions == nil {
		config.Sessions = NewRegistry(DefaultSessionTTL)
	}
	if config.Broadcaster == nil {
		config.Broadcaster = NewBroadcaster()
	}
	if config.PageMinSize <= 0 {
		config.PageMinSize = feeds.DefaultPageMinSize
	}

	communityCache := expirable.NewLRU[string, *models.Community](communityCacheSize, nil, communityCacheTTL)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"latency": time.Since(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Cache-Control",
	}))

	// Only cache dashboard aggregates
	app.Use(cache.New(cache.Config{
		Next: func(c *fiber.Ctx) bool {
			if c.Method() != fiber.MethodGet {
				return true
			}
			if strings.HasSuffix(c.Path(), "/sse") {
				return true
			}
			return !strings.HasPrefix(c.Path(), "/dashboard")
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.Request().URI().String()
		},
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "sessions": config.Sessions.Len()})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/api/snaps", func(c *fiber.Ctx) error {
		mode := c.Query("filter", feeds.ModeCommunity)
		account := strings.TrimSpace(c.Query("account"))

		limit := config.PageMinSize
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 || parsed > maxBatchSize {
				return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "Invalid limit"})
			}
			limit = parsed
		}

		filter, err := config.Filters.New(mode, account)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
		}
		mode = filter.Name()

		session, ok := config.Sessions.Get(c.Query("session"))
		if !ok {
			pager := feeds.NewPager(config.Source, config.Pager, filter)
			session = config.Sessions.Create(mode, account, pager)
		} else if !session.Matches(mode, account) {
			log.WithFields(log.Fields{
				"session": session.Id,
				"mode":    mode,
			}).Info("Filter changed, resetting session")
			session.Reset(mode, account, filter)
		}

		generation := session.Generation()
		items, err := session.Pager.FetchNextBatch(c.UserContext(), limit)
		if err != nil {
			return fetchError(c, session.Id, err)
		}
		if _, err := session.Merge(generation, items); err != nil {
			return fetchError(c, session.Id, err)
		}

		response := models.SnapsResponse{
			Session: session.Id,
			Items:   items,
			HasMore: session.Pager.HasMore(),
		}
		if cursor := session.Pager.Cursor(); cursor.ContainerID != "" {
			response.Cursor = &cursor
		}
		return c.JSON(response)
	})

	app.Get("/api/snaps/sessions/:id", func(c *fiber.Ctx) error {
		session, ok := config.Sessions.Get(c.Params("id"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "Unknown session"})
		}
		return c.JSON(models.SnapsResponse{
			Session: session.Id,
			Items:   session.Items(),
			HasMore: session.Pager.HasMore(),
		})
	})

	app.Delete("/api/snaps/sessions/:id", func(c *fiber.Ctx) error {
		if !config.Sessions.Remove(c.Params("id")) {
			return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "Unknown session"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Get("/api/wallet/:account/history", func(c *fiber.Ctx) error {
		account := c.Params("account")
		start, err := strconv.ParseInt(c.Query("start", "-1"), 10, 64)
		if err != nil || start < -1 {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "Invalid start"})
		}
		limit, err := strconv.Atoi(c.Query("limit", strconv.Itoa(wallet.DefaultPageLimit)))
		if err != nil || limit < 1 || limit > 1000 {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "Invalid limit"})
		}

		page, err := wallet.Page(c.UserContext(), config.Wallet, account, start, limit)
		if err != nil {
			log.WithFields(log.Fields{
				"account": account,
				"error":   err,
			}).Error("Error fetching history")
			return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{Error: "Error fetching history", Retryable: true})
		}

		filter := wallet.Filter{
			Incoming:    c.QueryBool("incoming", true),
			Outgoing:    c.QueryBool("outgoing", true),
			Rewards:     c.QueryBool("rewards", true),
			PowerUpDown: c.QueryBool("power", true),
			Savings:     c.QueryBool("savings", true),
		}
		page.Transactions = filter.Apply(account, page.Transactions)

		return c.JSON(page)
	})

	app.Get("/api/community", func(c *fiber.Ctx) error {
		name := c.Query("name", config.Filters.Tag)
		if community, ok := communityCache.Get(name); ok {
			return c.JSON(community)
		}

		community, err := config.Community.GetCommunity(c.UserContext(), name)
		if err != nil {
			log.WithFields(log.Fields{
				"community": name,
				"error":     err,
			}).Error("Error fetching community")
			return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{Error: "Error fetching community", Retryable: true})
		}
		communityCache.Add(name, community)
		return c.JSON(community)
	})

	app.Get("/api/archive", func(c *fiber.Ctx) error {
		if config.Archive == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{Error: "Archive not configured"})
		}

		limit, err := strconv.ParseInt(c.Query("limit", "20"), 0, 32)
		if err != nil || limit < 1 || limit > maxBatchSize {
			limit = 20
		}

		page, err := feeds.ArchivePage(c.UserContext(), config.Archive, c.Query("author"), c.Query("cursor"), int(limit))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "Error reading archive"})
		}
		return c.JSON(page)
	})

	app.Get("/dashboard/snaps-per-time", func(c *fiber.Ctx) error {
		if config.Archive == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{Error: "Archive not configured"})
		}

		author := c.Query("author", "")
		timeAgg := c.Query("time", "hour")
		if timeAgg != "hour" && timeAgg != "day" && timeAgg != "week" {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid time")
		}

		counts, err := config.Archive.CountPerTime(c.UserContext(), author, timeAgg)
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Error("Error getting snaps per time")
			return c.Status(fiber.StatusInternalServerError).SendString("Error getting snaps per time")
		}

		return c.JSON(counts)
	})

	bc := config.Broadcaster

	app.Delete("/dashboard/snaps/sse", func(c *fiber.Ctx) error {
		bc.RemoveClient(c.Query("key", ""))
		return c.SendString("OK")
	})

	app.Get("/dashboard/snaps/sse", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		key := uuid.New().String()
		snapChannel := make(chan models.Item, 10)
		bc.AddClient(key, snapChannel)

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			aliveChan := time.NewTicker(5 * time.Second)
			defer aliveChan.Stop()
			defer bc.RemoveClient(key)

			fmt.Fprintf(w, "event: init\ndata: %s\n\n", key)
			if err := w.Flush(); err != nil {
				log.Errorf("Failed to send init event: %v", err)
				return
			}

			for {
				select {
				case <-aliveChan.C:
					fmt.Fprintf(w, "event: ping\ndata: \n\n")
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush ping for client %s: %v", key, err)
						return
					}

				case snap, ok := <-snapChannel:
					if !ok {
						return
					}
					jsonSnap, err := json.Marshal(snap)
					if err != nil {
						log.Errorf("Error marshalling snap for client %s: %v", key, err)
						continue
					}
					fmt.Fprintf(w, "event: snap\ndata: %s\n\n", jsonSnap)
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush snap for client %s: %v", key, err)
						return
					}
				}
			}
		}))

		return nil
	})

	return app
}

// fetchError maps pager errors to status codes
func fetchError(c *fiber.Ctx, session string, err error) error {
	fields := log.Fields{
		"session": session,
		"error":   err,
	}

	var remoteErr *feeds.RemoteFetchError
	switch {
	case errors.Is(err, feeds.ErrBusy), errors.Is(err, feeds.ErrSessionReset):
		log.WithFields(fields).Info("Rejected concurrent fetch")
		return c.Status(fiber.StatusConflict).JSON(errorResponse{Error: err.Error(), Retryable: true})
	case errors.Is(err, feeds.ErrInvalidBatchSize):
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	case errors.As(err, &remoteErr):
		log.WithFields(fields).Warn("Remote fetch failed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{Error: "Hive API unavailable", Retryable: true})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.WithFields(fields).Info("Fetch cancelled")
		return c.Status(fiber.StatusRequestTimeout).JSON(errorResponse{Error: err.Error(), Retryable: true})
	default:
		log.WithFields(fields).Error("Fetch failed")
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "Internal error"})
	}
}
