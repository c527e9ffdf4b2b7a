// Package api 只读HTTP接口，唯一的写操作是告警确认与恢复状态重置
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/life2you_mini/bridgesync/internal/alerts"
	"github.com/life2you_mini/bridgesync/internal/model"
	"github.com/life2you_mini/bridgesync/internal/recovery"
	"github.com/life2you_mini/bridgesync/internal/views"
)

// AccountReader 账户与成交读取
type AccountReader interface {
	ListAccounts(ctx context.Context) ([]*model.AccountSnapshot, error)
	ListDeals(ctx context.Context, account int64, since time.Time) ([]*model.Deal, error)
	Health(ctx context.Context) error
}

// HealthSource 健康监控状态
type HealthSource interface {
	Snapshot() ([]model.BridgeStatus, time.Time)
	EvaluateAll(ctx context.Context) []model.BridgeStatus
	Bridges() []model.BridgeInfo
	CheckInterval() time.Duration
	StalenessThreshold() time.Duration
	IsRunning() bool
}

// AlertLog 告警日志
type AlertLog interface {
	History(ctx context.Context, hours int, bridgeID string) ([]*model.Alert, error)
	Acknowledge(ctx context.Context, id string) error
}

// RecoveryState 自动恢复状态
type RecoveryState interface {
	Statuses() []recovery.BridgeRecovery
	Status(bridgeID string) (recovery.BridgeRecovery, bool)
	Reset(bridgeID string) error
}

// ViewEngine 派生视图
type ViewEngine interface {
	FundPortfolio(ctx context.Context) (*views.FundPortfolio, error)
	Managers(ctx context.Context) (*views.ManagerView, error)
	CashFlow(ctx context.Context) (*views.CashFlow, error)
	TradingAnalytics(ctx context.Context) (*views.TradingAnalytics, error)
}

// SSOTChecker 元数据单一数据源检查
type SSOTChecker interface {
	VerifySSOT(ctx context.Context) error
}

// Handler HTTP处理器
type Handler struct {
	Store    AccountReader
	Monitor  HealthSource
	Alerts   AlertLog
	Recovery RecoveryState
	Views    ViewEngine
	SSOT     SSOTChecker
	Logger   *zap.Logger

	now func() time.Time
}

// Register 注册路由
func (h *Handler) Register(r *gin.Engine) {
	if h.now == nil {
		h.now = time.Now
	}
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}

	r.GET("/health", h.health)
	r.GET("/accounts", h.accounts)
	r.GET("/accounts/:account/deals", h.deals)

	a := r.Group("/alerts")
	a.GET("", h.currentAlerts)
	a.GET("/history", h.alertHistory)
	a.POST("/history/:id/ack", h.acknowledge)

	m := r.Group("/monitoring")
	m.GET("/status", h.monitoringStatus)
	m.POST("/recovery/:bridge_id/reset", h.resetRecovery)

	v := r.Group("/views")
	v.GET("/fund-portfolio", h.fundPortfolio)
	v.GET("/money-managers", h.moneyManagers)
	v.GET("/cash-flow", h.cashFlow)
	v.GET("/trading-analytics", h.tradingAnalytics)
}

// statuses 最近一次检查结果，监控尚未运行时现场计算（不写告警）
func (h *Handler) statuses(ctx context.Context) ([]model.BridgeStatus, time.Time) {
	statuses, checkedAt := h.Monitor.Snapshot()
	if checkedAt.IsZero() {
		return h.Monitor.EvaluateAll(ctx), h.now()
	}
	return statuses, checkedAt
}

type bridgeHealth struct {
	Status           model.HealthState        `json:"status"`
	Accounts         int                      `json:"accounts"`
	ExpectedAccounts int                      `json:"expected_accounts"`
	LastSync         *time.Time               `json:"last_sync"`
	Healthy          bool                     `json:"healthy"`
	Broker           string                   `json:"broker"`
	Platform         string                   `json:"platform"`
	Server           string                   `json:"server"`
	Issues           []string                 `json:"issues"`
	Recovery         *recovery.BridgeRecovery `json:"recovery,omitempty"`
}

func (h *Handler) health(c *gin.Context) {
	ctx := c.Request.Context()
	statuses, checkedAt := h.statuses(ctx)

	bridges := make(map[string]bridgeHealth, len(statuses))
	total, expected := 0, 0
	allHealthy := true
	for _, st := range statuses {
		bh := bridgeHealth{
			Status:           st.Health,
			Accounts:         st.ActualAccounts,
			ExpectedAccounts: st.ExpectedAccounts,
			LastSync:         st.LastSyncTimestamp,
			Healthy:          st.Healthy(),
			Broker:           st.Broker,
			Platform:         st.Platform,
			Server:           st.Server,
			Issues:           st.Issues,
		}
		if h.Recovery != nil {
			if rs, ok := h.Recovery.Status(st.BridgeID); ok {
				bh.Recovery = &rs
			}
		}
		bridges[st.BridgeID] = bh
		total += st.ActualAccounts
		expected += st.ExpectedAccounts
		allHealthy = allHealthy && st.Healthy()
	}

	storeStatus := "ok"
	if err := h.Store.Health(ctx); err != nil {
		h.Logger.Warn("存储健康检查失败", zap.Error(err))
		storeStatus = "unavailable"
		allHealthy = false
	}

	resp := gin.H{
		"bridges":        bridges,
		"total_accounts": total,
		"expected_total": expected,
		"healthy":        allHealthy,
		"store":          storeStatus,
		"checked_at":     checkedAt.UTC(),
		"timestamp":      h.now().UTC(),
	}
	if h.SSOT != nil {
		if err := h.SSOT.VerifySSOT(ctx); err != nil {
			resp["ssot"] = err.Error()
			resp["healthy"] = false
		} else {
			resp["ssot"] = "ok"
		}
	}
	c.JSON(http.StatusOK, resp)
}

type accountRow struct {
	Account        int64     `json:"account"`
	Broker         string    `json:"broker"`
	Platform       string    `json:"platform"`
	BridgeID       string    `json:"bridge_id"`
	Server         string    `json:"server"`
	Balance        float64   `json:"balance"`
	Equity         float64   `json:"equity"`
	PositionsCount int       `json:"positions_count"`
	LastSync       time.Time `json:"last_sync"`
}

func (h *Handler) accounts(c *gin.Context) {
	list, err := h.Store.ListAccounts(c.Request.Context())
	if err != nil {
		h.Logger.Error("读取账户失败", zap.Error(err))
		Error(c, http.StatusServiceUnavailable, "account store unavailable")
		return
	}

	rows := make([]accountRow, 0, len(list))
	byBridge := make(map[string]int)
	for _, a := range list {
		rows = append(rows, accountRow{
			Account:        a.Account,
			Broker:         a.Broker,
			Platform:       a.Platform,
			BridgeID:       a.BridgeID,
			Server:         a.Server,
			Balance:        a.Balance,
			Equity:         a.Equity,
			PositionsCount: a.PositionsCount,
			LastSync:       a.LastSyncTimestamp,
		})
		byBridge[a.BridgeID]++
	}

	c.JSON(http.StatusOK, gin.H{
		"accounts":       rows,
		"total_accounts": len(rows),
		"by_bridge":      byBridge,
	})
}

func (h *Handler) deals(c *gin.Context) {
	account, err := strconv.ParseInt(c.Param("account"), 10, 64)
	if err != nil || account <= 0 {
		Error(c, http.StatusBadRequest, "invalid account number")
		return
	}

	var since time.Time
	if v := c.Query("since"); v != "" {
		since, err = time.Parse(time.RFC3339, v)
		if err != nil {
			Error(c, http.StatusBadRequest, "since must be RFC3339")
			return
		}
	}

	deals, err := h.Store.ListDeals(c.Request.Context(), account, since)
	if err != nil {
		h.Logger.Error("读取成交失败", zap.Int64("account", account), zap.Error(err))
		Error(c, http.StatusServiceUnavailable, "deal store unavailable")
		return
	}
	if deals == nil {
		deals = []*model.Deal{}
	}

	out, err := external(gin.H{"account": account, "deals": deals, "count": len(deals)})
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) currentAlerts(c *gin.Context) {
	statuses, checkedAt := h.statuses(c.Request.Context())
	current := alerts.Current(statuses)
	c.JSON(http.StatusOK, gin.H{
		"alerts":     current,
		"count":      len(current),
		"checked_at": checkedAt.UTC(),
	})
}

func (h *Handler) alertHistory(c *gin.Context) {
	hours := alerts.DefaultHistoryHours
	if v := c.Query("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(c, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}
	bridgeID := c.Query("bridge_id")

	history, err := h.Alerts.History(c.Request.Context(), hours, bridgeID)
	if err != nil {
		h.Logger.Error("查询告警历史失败", zap.Error(err))
		Error(c, http.StatusServiceUnavailable, "alert log unavailable")
		return
	}

	resp := gin.H{"alerts": history, "count": len(history), "hours": hours}
	if bridgeID != "" {
		resp["bridge_id"] = bridgeID
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) acknowledge(c *gin.Context) {
	id := c.Param("id")
	err := h.Alerts.Acknowledge(c.Request.Context(), id)
	switch {
	case errors.Is(err, alerts.ErrAlertNotFound):
		Error(c, http.StatusNotFound, "alert not found")
		return
	case err != nil:
		h.Logger.Error("确认告警失败", zap.String("alert_id", id), zap.Error(err))
		Error(c, http.StatusServiceUnavailable, "alert log unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "acknowledged": true})
}

func (h *Handler) monitoringStatus(c *gin.Context) {
	bridges := h.Monitor.Bridges()
	ids := make([]string, 0, len(bridges))
	for _, b := range bridges {
		ids = append(ids, b.ID)
	}

	resp := gin.H{
		"service_running":         h.Monitor.IsRunning(),
		"check_interval_seconds":  int(h.Monitor.CheckInterval().Seconds()),
		"alert_threshold_minutes": int(h.Monitor.StalenessThreshold().Minutes()),
		"bridges_monitored":       len(bridges),
		"bridge_list":             ids,
	}
	if h.Recovery != nil {
		resp["recovery"] = h.Recovery.Statuses()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) resetRecovery(c *gin.Context) {
	if h.Recovery == nil {
		Error(c, http.StatusNotFound, "recovery not configured")
		return
	}
	bridgeID := c.Param("bridge_id")
	err := h.Recovery.Reset(bridgeID)
	switch {
	case errors.Is(err, recovery.ErrUnknownBridge):
		Error(c, http.StatusNotFound, "unknown bridge")
		return
	case errors.Is(err, recovery.ErrRecoveryInProgress):
		Error(c, http.StatusConflict, "recovery in progress")
		return
	case err != nil:
		Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	st, _ := h.Recovery.Status(bridgeID)
	c.JSON(http.StatusOK, st)
}

func (h *Handler) fundPortfolio(c *gin.Context) {
	view, err := h.Views.FundPortfolio(c.Request.Context())
	h.writeView(c, "fund-portfolio", view, err)
}

func (h *Handler) moneyManagers(c *gin.Context) {
	view, err := h.Views.Managers(c.Request.Context())
	h.writeView(c, "money-managers", view, err)
}

func (h *Handler) cashFlow(c *gin.Context) {
	view, err := h.Views.CashFlow(c.Request.Context())
	h.writeView(c, "cash-flow", view, err)
}

func (h *Handler) tradingAnalytics(c *gin.Context) {
	view, err := h.Views.TradingAnalytics(c.Request.Context())
	h.writeView(c, "trading-analytics", view, err)
}

func (h *Handler) writeView(c *gin.Context, name string, view interface{}, err error) {
	if err != nil {
		h.Logger.Error("计算视图失败", zap.String("view", name), zap.Error(err))
		Error(c, http.StatusServiceUnavailable, "view unavailable")
		return
	}
	out, err := external(view)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, out)
}
