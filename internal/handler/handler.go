// Package handler содержит HTTP-обработчики API сервиса flexvault.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/flexvault-system/internal/ledger"
	"github.com/mmeshcher/flexvault-system/internal/middleware"
	"github.com/mmeshcher/flexvault-system/internal/model"
	"github.com/mmeshcher/flexvault-system/internal/oracle"
	"github.com/mmeshcher/flexvault-system/internal/repository"
	"github.com/mmeshcher/flexvault-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	Deposit(ctx context.Context, userID int64, asset string, amount int64) (int64, error)
	MintAndSplit(ctx context.Context, userID int64, totalValue, lockedValue, lockPeriodDays, dailyRelease int64) (int64, int64, error)
	CreateLock(ctx context.Context, userID, amount, lockPeriodDays, dailyRelease int64) error
	ReleaseDaily(ctx context.Context, userID int64) (int64, error)
	LockStatus(ctx context.Context, userID int64) (*model.LockStatus, error)
	Hedge(ctx context.Context, userID int64, amount int64) error
	InitiateRedeem(ctx context.Context, userID, amount int64) error
	ExecuteRedeem(ctx context.Context, userID int64) (int64, error)
	CheckRedeemEligibility(ctx context.Context, userID int64) (bool, error)
	FeedValue(ctx context.Context, asset string, kind model.FeedKind) (int64, error)
	Pause(ctx context.Context, callerID int64) error
	Resume(ctx context.Context, callerID int64) error
}

// Handler реализует HTTP-обработчики API сервиса flexvault.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// statusForError переводит доменную ошибку в HTTP-статус. Неизвестные ошибки
// считаются внутренними.
func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidAssetType),
		errors.Is(err, service.ErrInvalidLockParameters),
		errors.Is(err, service.ErrInvalidPrice),
		errors.Is(err, oracle.ErrInvalidAsset),
		errors.Is(err, oracle.ErrInvalidKind):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, repository.ErrUserNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrLockNotFound),
		errors.Is(err, repository.ErrRequestNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrUserExists),
		errors.Is(err, service.ErrSystemPaused),
		errors.Is(err, service.ErrAlreadyPaused),
		errors.Is(err, service.ErrNotPaused),
		errors.Is(err, service.ErrAlreadyProcessed),
		errors.Is(err, service.ErrAlreadyReleasedToday),
		errors.Is(err, repository.ErrRequestPending),
		errors.Is(err, repository.ErrLockConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrCalculation),
		errors.Is(err, service.ErrMintingLimitExceeded),
		errors.Is(err, service.ErrLockPeriodNotEnded),
		errors.Is(err, service.ErrLockPeriodEnded),
		errors.Is(err, service.ErrRedemptionPeriodEnded),
		errors.Is(err, service.ErrNoAmountToRelease):
		return http.StatusUnprocessableEntity
	case errors.Is(err, oracle.ErrFeedUnavailable),
		errors.Is(err, oracle.ErrPriceConversion),
		errors.Is(err, oracle.ErrZeroPrice):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op, zap.Error(err), zap.String("path", r.URL.Path))
		http.Error(w, http.StatusText(status), status)
		return
	}
	http.Error(w, err.Error(), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func userIDOrAbort(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return userID, ok
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, r, "register user", err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, r, "login user", err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type depositRequest struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

type depositResponse struct {
	ValuedAmount int64 `json:"valued_amount"`
}

// Deposit принимает залог текущего пользователя.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	valued, err := h.service.Deposit(r.Context(), userID, req.Asset, req.Amount)
	if err != nil {
		h.writeError(w, r, "deposit", err)
		return
	}

	h.writeJSON(w, depositResponse{ValuedAmount: valued})
}

type mintRequest struct {
	TotalValue     int64 `json:"total_value"`
	LockedValue    int64 `json:"locked_value"`
	LockPeriodDays int64 `json:"lock_period_days"`
	DailyRelease   int64 `json:"daily_release"`
}

type mintResponse struct {
	MintedTotal  int64 `json:"minted_total"`
	LiquidAmount int64 `json:"liquid_amount"`
}

// Mint выпускает синтетические токены и распределяет их между ликвидной и
// заблокированной частями.
func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}

	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	total, liquid, err := h.service.MintAndSplit(r.Context(), userID, req.TotalValue, req.LockedValue, req.LockPeriodDays, req.DailyRelease)
	if err != nil {
		h.writeError(w, r, "mint and split", err)
		return
	}

	h.writeJSON(w, mintResponse{MintedTotal: total, LiquidAmount: liquid})
}

type lockRequest struct {
	Amount         int64 `json:"amount"`
	LockPeriodDays int64 `json:"lock_period_days"`
	DailyRelease   int64 `json:"daily_release"`
}

// Lock блокирует синтетические токены текущего пользователя.
func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}

	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.CreateLock(r.Context(), userID, req.Amount, req.LockPeriodDays, req.DailyRelease); err != nil {
		h.writeError(w, r, "create lock", err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type releaseResponse struct {
	Released int64 `json:"released"`
}

// Release выплачивает текущему пользователю суточную часть блокировки.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}

	released, err := h.service.ReleaseDaily(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, "daily release", err)
		return
	}

	h.writeJSON(w, releaseResponse{Released: released})
}

// LockStatus возвращает состояние блокировки текущего пользователя.
func (h *Handler) LockStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}

	status, err := h.service.LockStatus(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, "lock status", err)
		return
	}

	h.writeJSON(w, status)
}

type hedgeRequest struct {
	Amount int64 `json:"amount"`
}

// Hedge выполняет операцию хеджирования для текущего пользователя.
func (h *Handler) Hedge(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}

	var req hedgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.Hedge(r.Context(), userID, req.Amount); err != nil {
		h.writeError(w, r, "hedge", err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type redeemRequest struct {
	Amount int64 `json:"amount"`
}

// InitiateRedeem создаёт заявку текущего пользователя на погашение.
func (h *Handler) InitiateRedeem(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.InitiateRedeem(r.Context(), userID, req.Amount); err != nil {
		h.writeError(w, r, "initiate redeem", err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

type executeRedeemResponse struct {
	Payout int64 `json:"payout"`
}

// ExecuteRedeem исполняет заявку текущего пользователя на погашение.
func (h *Handler) ExecuteRedeem(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}

	payout, err := h.service.ExecuteRedeem(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, "execute redeem", err)
		return
	}

	h.writeJSON(w, executeRedeemResponse{Payout: payout})
}

type eligibilityResponse struct {
	Eligible bool `json:"eligible"`
}

// RedeemEligibility сообщает о праве текущего пользователя на погашение.
func (h *Handler) RedeemEligibility(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}

	eligible, err := h.service.CheckRedeemEligibility(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, "redeem eligibility", err)
		return
	}

	h.writeJSON(w, eligibilityResponse{Eligible: eligible})
}

type priceResponse struct {
	Asset string `json:"asset"`
	Kind  string `json:"kind"`
	Value int64  `json:"value"`
}

// Price возвращает значение ценового фида для пары (asset, kind).
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = string(model.FeedKindPrice)
	}

	value, err := h.service.FeedValue(r.Context(), asset, model.FeedKind(kind))
	if err != nil {
		h.writeError(w, r, "feed value", err)
		return
	}

	h.writeJSON(w, priceResponse{Asset: asset, Kind: kind, Value: value})
}

// Pause приостанавливает систему. Доступно только администратору.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}

	if err := h.service.Pause(r.Context(), userID); err != nil {
		h.writeError(w, r, "pause system", err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Resume возобновляет работу системы. Доступно только администратору.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}

	if err := h.service.Resume(r.Context(), userID); err != nil {
		h.writeError(w, r, "resume system", err)
		return
	}

	w.WriteHeader(http.StatusOK)
}
