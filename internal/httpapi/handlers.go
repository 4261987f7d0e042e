package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"meramandi/internal/alerting"
	"meramandi/internal/fetcher"
	"meramandi/internal/ivr"
	"meramandi/internal/market"
	"meramandi/internal/service"
	"meramandi/internal/storage"
)

const authCookie = "auth-token"

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

// failErr maps service and storage sentinels onto HTTP statuses.
func failErr(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		fail(c, http.StatusUnauthorized, "invalid credentials or session")
	case errors.Is(err, service.ErrConflict):
		fail(c, http.StatusConflict, "phone number already registered")
	case errors.Is(err, storage.ErrNotFound):
		fail(c, http.StatusNotFound, "not found")
	case errors.Is(err, fetcher.ErrUpstreamUnavailable):
		fail(c, http.StatusBadGateway, "price source unavailable")
	case errors.Is(err, storage.ErrNotConfigured):
		fail(c, http.StatusServiceUnavailable, "database not configured")
	default:
		fail(c, http.StatusInternalServerError, "internal server error")
	}
}

func unavailable(c *gin.Context) {
	fail(c, http.StatusServiceUnavailable, "service not configured")
}

func (h *handler) live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": h.deps.Version})
}

func (h *handler) ready(c *gin.Context) {
	if h.deps.DB == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := h.deps.DB.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"checks": gin.H{"database": gin.H{"status": "unhealthy", "error": err.Error()}},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"checks": gin.H{"database": gin.H{"status": "ok", "latency_ms": time.Since(start).Milliseconds()}},
	})
}

func (h *handler) prices(c *gin.Context) {
	if h.deps.Prices == nil {
		unavailable(c)
		return
	}
	q := fetcher.Query{State: c.Query("state"), District: c.Query("district")}
	records, err := h.deps.Prices.FetchPrices(c.Request.Context(), q)
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"success": false,
			"records": []market.PriceRecord{},
			"error":   "failed to fetch prices",
		})
		return
	}
	if records == nil {
		records = []market.PriceRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *handler) createAlert(c *gin.Context) {
	if h.deps.Alerts == nil {
		unavailable(c)
		return
	}
	var in service.CreateAlertInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.deps.Alerts.Create(c.Request.Context(), in)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":   true,
		"alert":     newSubscriptionView(res.Subscription),
		"user":      newOwnerView(res.Owner, res.Snapshot),
		"emailSent": res.EmailSent,
	})
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

func (h *handler) register(c *gin.Context) {
	if h.deps.Accounts == nil {
		unavailable(c)
		return
	}
	var in service.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := h.deps.Accounts.Register(c.Request.Context(), in)
	if err != nil {
		failErr(c, err)
		return
	}
	h.setSessionCookie(c, sess)
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Registration successful!",
		"user":    newOwnerView(sess.Owner, sess.Snapshot),
		"token":   sess.Token,
	})
}

func (h *handler) login(c *gin.Context) {
	if h.deps.Accounts == nil {
		unavailable(c)
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Phone) == "" || req.Password == "" {
		fail(c, http.StatusBadRequest, "phone and password are required")
		return
	}
	sess, err := h.deps.Accounts.Login(c.Request.Context(), req.Phone, req.Password)
	if err != nil {
		failErr(c, err)
		return
	}
	h.setSessionCookie(c, sess)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Login successful!",
		"user":    newOwnerView(sess.Owner, sess.Snapshot),
		"token":   sess.Token,
	})
}

type emailOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

func (h *handler) requestEmailOTP(c *gin.Context) {
	if h.deps.Accounts == nil {
		unavailable(c)
		return
	}
	var req emailOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		fail(c, http.StatusBadRequest, "email is required")
		return
	}
	if err := h.deps.Accounts.RequestEmailOTP(c.Request.Context(), req.Email); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "OTP sent to email"})
}

func (h *handler) verifyEmailOTP(c *gin.Context) {
	if h.deps.Accounts == nil {
		unavailable(c)
		return
	}
	var req emailOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTP) == "" {
		fail(c, http.StatusBadRequest, "email and otp are required")
		return
	}
	sess, err := h.deps.Accounts.VerifyEmailOTP(c.Request.Context(), req.Email, req.OTP)
	if err != nil {
		failErr(c, err)
		return
	}
	h.setSessionCookie(c, sess)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Email verified",
		"user":    newOwnerView(sess.Owner, sess.Snapshot),
		"token":   sess.Token,
	})
}

func (h *handler) me(c *gin.Context) {
	if h.deps.Accounts == nil {
		unavailable(c)
		return
	}
	token := sessionToken(c)
	if token == "" {
		fail(c, http.StatusUnauthorized, "no token provided")
		return
	}
	owner, err := h.deps.Accounts.Authenticate(c.Request.Context(), token)
	if err != nil {
		failErr(c, err)
		return
	}

	var snap *market.Snapshot
	if owner.SnapshotID != nil && h.deps.Snapshots != nil {
		s, err := h.deps.Snapshots.GetSnapshot(c.Request.Context(), *owner.SnapshotID)
		if err == nil {
			snap = &s
		} else {
			h.logger.Warn().Err(err).Int64("snapshot_id", *owner.SnapshotID).Msg("owner snapshot lookup failed")
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": newOwnerView(owner, snap)})
}

func (h *handler) logout(c *gin.Context) {
	if h.deps.Accounts == nil {
		unavailable(c)
		return
	}
	if token := sessionToken(c); token != "" {
		if err := h.deps.Accounts.Logout(c.Request.Context(), token); err != nil {
			h.logger.Warn().Err(err).Msg("token revocation failed")
		}
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(authCookie, "", -1, "/", "", h.deps.CookieSecure, true)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out"})
}

func (h *handler) setSessionCookie(c *gin.Context, sess service.Session) {
	maxAge := int(time.Until(sess.ExpiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = int(h.deps.TokenTTL.Seconds())
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(authCookie, sess.Token, maxAge, "/", "", h.deps.CookieSecure, true)
}

// sessionToken reads the token from the auth cookie or a bearer header.
func sessionToken(c *gin.Context) string {
	if v, err := c.Cookie(authCookie); err == nil && v != "" {
		return v
	}
	if v, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func (h *handler) checkPrices(c *gin.Context) {
	if h.deps.Notifier == nil {
		unavailable(c)
		return
	}
	if h.deps.CronKey == "" {
		fail(c, http.StatusForbidden, "cron endpoint disabled")
		return
	}
	if subtle.ConstantTimeCompare([]byte(c.Query("key")), []byte(h.deps.CronKey)) != 1 {
		fail(c, http.StatusUnauthorized, "invalid key")
		return
	}
	force := c.Query("force") == "true"

	stats, err := h.deps.Notifier.Run(c.Request.Context(), h.now(), force)
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "notification run failed", "stats": stats})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "forced": force, "stats": stats})
}

func (h *handler) voice(c *gin.Context) {
	if h.deps.Voice == nil {
		unavailable(c)
		return
	}
	in := ivr.Input{
		CallSID: c.PostForm("CallSid"),
		From:    c.PostForm("From"),
		Speech:  c.PostForm("SpeechResult"),
		Digits:  c.PostForm("Digits"),
		Step:    c.Query("step"),
	}
	resp, err := h.deps.Voice.Handle(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		h.logger.Error().Err(err).Str("call_sid", in.CallSID).Msg("voice webhook failed")
		resp = ivr.Apology()
	}
	body, err := resp.Bytes()
	if err != nil {
		_ = c.Error(err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/xml; charset=utf-8", body)
}

type testSMSRequest struct {
	Phone string `json:"phone"`
}

func (h *handler) testSMS(c *gin.Context) {
	if h.deps.Sender == nil {
		unavailable(c)
		return
	}
	var req testSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Phone) == "" {
		fail(c, http.StatusBadRequest, "phone number required")
		return
	}
	to := alerting.NormalizePhone(req.Phone)
	err := h.deps.Sender.Send(c.Request.Context(), to, alerting.TestMessage)
	h.deps.Metrics.SMS(err)
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   "failed to send SMS",
			"phone":   req.Phone,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Test SMS sent",
		"phone":     req.Phone,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}
