package core

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100

	// unknownUsername is the enrichment placeholder substituted when an author
	// identifier from the statistics backend no longer resolves to an account.
	unknownUsername = "unknown"
)

// NewRouter constructs the Gin engine with routes wired. The token codec is
// built from cfg; every other collaborator is injected so tests can substitute
// fakes for the record store and the remote backends.
func NewRouter(cfg Config, accounts *AccountService, resolver *UsernameResolver, tasks TaskClient, stats StatsClient) *gin.Engine {
	r := gin.Default()

	r.Use(OriginRefererMiddleware(cfg))

	codec := NewTokenCodec(cfg.TokenSecret, cfg.TokenTTL)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/signup", func(c *gin.Context) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusNotAcceptable, "VALIDATION_ERROR", "invalid json")
			return
		}

		err := accounts.Register(c.Request.Context(), req.Username, req.Password)
		switch {
		case err == nil:
			c.Status(http.StatusCreated)
		case errors.Is(err, ErrBadUsername) || errors.Is(err, ErrBadPassword):
			respondError(c, http.StatusNotAcceptable, "VALIDATION_ERROR", err.Error())
		case errors.Is(err, ErrUsernameTaken):
			respondError(c, http.StatusConflict, "USERNAME_TAKEN", "username already exists")
		default:
			log.Printf("signup failed for %q: %v", req.Username, err)
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
		}
	})

	r.POST("/login", func(c *gin.Context) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusNotAcceptable, "VALIDATION_ERROR", "invalid json")
			return
		}

		identity, err := accounts.Authenticate(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			if errors.Is(err, ErrInvalidCredentials) {
				respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password")
				return
			}
			log.Printf("login failed for %q: %v", req.Username, err)
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
			return
		}

		token, err := codec.Issue(identity.AccountID, identity.Username)
		if err != nil {
			log.Printf("token issue failed for %q: %v", req.Username, err)
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
			return
		}

		c.Header("Authorization", "Bearer "+token)
		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	// Protected operations. RequireAuth rejects with 401 before any handler
	// work, so no side effect can precede a successful authorization.
	authed := r.Group("/", RequireAuth(codec))
	{
		authed.GET("/personal_data", func(c *gin.Context) {
			identity, _ := CurrentIdentity(c)
			profile, err := accounts.ReadProfile(c.Request.Context(), identity.AccountID)
			if err != nil {
				if errors.Is(err, ErrAccountNotFound) {
					respondError(c, http.StatusNotFound, "NOT_FOUND", "account not found")
					return
				}
				log.Printf("profile read failed for id=%d: %v", identity.AccountID, err)
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
				return
			}
			c.JSON(http.StatusOK, profile)
		})

		authed.PUT("/personal_data", func(c *gin.Context) {
			var update ProfileUpdate
			if err := c.ShouldBindJSON(&update); err != nil {
				respondError(c, http.StatusNotAcceptable, "VALIDATION_ERROR", "invalid json")
				return
			}

			// Target account comes from the token, never from the body.
			identity, _ := CurrentIdentity(c)
			err := accounts.UpdateProfile(c.Request.Context(), identity.AccountID, update)
			switch {
			case err == nil:
				c.Status(http.StatusOK)
			case errors.Is(err, ErrBadBirthDate):
				respondError(c, http.StatusNotAcceptable, "VALIDATION_ERROR", err.Error())
			case errors.Is(err, ErrAccountNotFound):
				respondError(c, http.StatusNotFound, "NOT_FOUND", "account not found")
			default:
				log.Printf("profile update failed for id=%d: %v", identity.AccountID, err)
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
			}
		})

		authed.POST("/create_task", func(c *gin.Context) {
			var req struct {
				Text string `json:"text"`
			}
			if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
				respondError(c, http.StatusNotAcceptable, "VALIDATION_ERROR", "task text is required")
				return
			}

			identity, _ := CurrentIdentity(c)
			taskID, err := tasks.CreateTask(c.Request.Context(), identity.AccountID, req.Text)
			if err != nil {
				log.Printf("create_task failed for user=%d: %v", identity.AccountID, err)
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
				return
			}
			c.JSON(http.StatusCreated, gin.H{"task_id": taskID})
		})

		authed.PUT("/update_task", func(c *gin.Context) {
			var req struct {
				TaskID int64  `json:"task_id"`
				Text   string `json:"text"`
			}
			if err := c.ShouldBindJSON(&req); err != nil || req.TaskID <= 0 || strings.TrimSpace(req.Text) == "" {
				respondError(c, http.StatusNotAcceptable, "VALIDATION_ERROR", "task_id and text are required")
				return
			}

			identity, _ := CurrentIdentity(c)
			if err := tasks.UpdateTask(c.Request.Context(), req.TaskID, identity.AccountID, req.Text); err != nil {
				log.Printf("update_task failed for user=%d task=%d: %v", identity.AccountID, req.TaskID, err)
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
				return
			}
			c.Status(http.StatusOK)
		})

		authed.DELETE("/delete_task", func(c *gin.Context) {
			var req struct {
				TaskID int64 `json:"task_id"`
			}
			if err := c.ShouldBindJSON(&req); err != nil || req.TaskID <= 0 {
				respondError(c, http.StatusNotAcceptable, "VALIDATION_ERROR", "task_id is required")
				return
			}

			identity, _ := CurrentIdentity(c)
			if err := tasks.DeleteTask(c.Request.Context(), req.TaskID, identity.AccountID); err != nil {
				log.Printf("delete_task failed for user=%d task=%d: %v", identity.AccountID, req.TaskID, err)
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
				return
			}
			c.Status(http.StatusOK)
		})

		authed.GET("/get_task", func(c *gin.Context) {
			taskID, err := strconv.ParseInt(c.Query("task_id"), 10, 64)
			if err != nil || taskID <= 0 {
				respondError(c, http.StatusNotAcceptable, "VALIDATION_ERROR", "task_id is required")
				return
			}

			identity, _ := CurrentIdentity(c)
			task, err := tasks.GetTask(c.Request.Context(), taskID, identity.AccountID)
			if err != nil {
				log.Printf("get_task failed for user=%d task=%d: %v", identity.AccountID, taskID, err)
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
				return
			}
			c.JSON(http.StatusOK, task)
		})

		authed.GET("/list_tasks", func(c *gin.Context) {
			page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
			if err != nil {
				respondError(c, http.StatusNotAcceptable, "VALIDATION_ERROR", err.Error())
				return
			}

			identity, _ := CurrentIdentity(c)
			list, err := tasks.ListTasks(c.Request.Context(), identity.AccountID, perPage, (page-1)*perPage)
			if err != nil {
				log.Printf("list_tasks failed for user=%d: %v", identity.AccountID, err)
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
				return
			}
			if list == nil {
				list = []Task{}
			}
			c.JSON(http.StatusOK, gin.H{"tasks": list, "page": page, "per_page": perPage})
		})

		authed.POST("/like", engagementHandler(tasks.SendLike, "like"))
		authed.POST("/view", engagementHandler(tasks.SendView, "view"))
	}

	r.GET("/likes_and_views", func(c *gin.Context) {
		taskID, err := strconv.ParseInt(c.Query("task_id"), 10, 64)
		if err != nil || taskID <= 0 {
			respondError(c, http.StatusNotAcceptable, "VALIDATION_ERROR", "task_id is required")
			return
		}

		counters, err := stats.TaskStats(c.Request.Context(), taskID)
		if err != nil {
			log.Printf("likes_and_views failed for task=%d: %v", taskID, err)
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
			return
		}
		c.JSON(http.StatusOK, counters)
	})

	r.GET("/most_popular_tasks", func(c *gin.Context) {
		orderBy := strings.ToLower(strings.TrimSpace(c.Query("order_by")))
		if orderBy == "" {
			orderBy = "likes"
		}
		if orderBy != "likes" && orderBy != "views" {
			respondError(c, http.StatusNotAcceptable, "VALIDATION_ERROR", "order_by must be likes or views")
			return
		}

		topTasks, err := stats.TopTasks(c.Request.Context(), orderBy)
		if err != nil {
			log.Printf("most_popular_tasks failed: %v", err)
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
			return
		}

		type enrichedTask struct {
			TaskID         int64  `json:"task_id"`
			AuthorID       int64  `json:"author_id"`
			AuthorUsername string `json:"author_username"`
			Count          int64  `json:"count"`
		}
		out := make([]enrichedTask, 0, len(topTasks))
		for _, t := range topTasks {
			username, ok, err := resolver.Resolve(c.Request.Context(), t.AuthorID)
			if err != nil {
				log.Printf("username resolution failed for id=%d: %v", t.AuthorID, err)
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
				return
			}
			if !ok {
				username = unknownUsername
			}
			out = append(out, enrichedTask{
				TaskID:         t.TaskID,
				AuthorID:       t.AuthorID,
				AuthorUsername: username,
				Count:          t.Count,
			})
		}
		c.JSON(http.StatusOK, gin.H{"tasks": out})
	})

	r.GET("/most_popular_users", func(c *gin.Context) {
		topUsers, err := stats.TopUsers(c.Request.Context())
		if err != nil {
			log.Printf("most_popular_users failed: %v", err)
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
			return
		}

		type enrichedUser struct {
			UserID   int64  `json:"user_id"`
			Username string `json:"username"`
			Likes    int64  `json:"likes"`
		}
		out := make([]enrichedUser, 0, len(topUsers))
		for _, u := range topUsers {
			username, ok, err := resolver.Resolve(c.Request.Context(), u.UserID)
			if err != nil {
				log.Printf("username resolution failed for id=%d: %v", u.UserID, err)
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
				return
			}
			if !ok {
				username = unknownUsername
			}
			out = append(out, enrichedUser{UserID: u.UserID, Username: username, Likes: u.Likes})
		}
		c.JSON(http.StatusOK, gin.H{"users": out})
	})

	return r
}

// engagementHandler binds a {task_id} body and forwards the action to the task
// backend with the acting user taken from the session token.
func engagementHandler(send func(ctx context.Context, taskID, userID int64) error, name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			TaskID int64 `json:"task_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.TaskID <= 0 {
			respondError(c, http.StatusNotAcceptable, "VALIDATION_ERROR", "task_id is required")
			return
		}

		identity, _ := CurrentIdentity(c)
		if err := send(c.Request.Context(), req.TaskID, identity.AccountID); err != nil {
			log.Printf("%s failed for user=%d task=%d: %v", name, identity.AccountID, req.TaskID, err)
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
			return
		}
		c.Status(http.StatusOK)
	}
}

func parsePagination(pageStr, perPageStr string) (int, int, error) {
	page := 1
	perPage := defaultPerPage
	if strings.TrimSpace(pageStr) != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, errors.New("page must be a positive integer")
		}
		page = p
	}
	if strings.TrimSpace(perPageStr) != "" {
		p, err := strconv.Atoi(perPageStr)
		if err != nil || p <= 0 {
			return 0, 0, errors.New("per_page must be a positive integer")
		}
		if p > maxPerPage {
			p = maxPerPage
		}
		perPage = p
	}
	return page, perPage, nil
}
