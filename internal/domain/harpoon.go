package domain

import (
	"fmt"
	"time"
)

// ServerSeed es la fila de seed commit-reveal de una subasta. Exactamente
// una fila viva por subasta corriendo; el secreto rota en cada miss y solo
// se publica su hash hasta que se consume.
type ServerSeed struct {
	AuctionID uint64
	Seed      string
	// ClientSeed es nullable hasta que se conoce un líder.
	ClientSeed string
}

// AttemptStatus es el resultado de un intento de robo.
type AttemptStatus string

const (
	AttemptMiss AttemptStatus = "miss"
	// AttemptPending: el draw tuvo éxito pero el payout resultante aún no
	// se observó finalizado en el ledger.
	AttemptPending AttemptStatus = "pending"
	AttemptSuccess AttemptStatus = "success"
)

// HarpoonAttempt es un intento de robo resuelto. Inmutable tras el insert,
// salvo la promoción diferida pending → success cuando el payout on-chain
// se confirma.
type HarpoonAttempt struct {
	AuctionID  uint64
	Account    string
	ClientSeed string
	ServerSeed string
	Odds       float64
	Draw       uint32
	Status     AttemptStatus
	At         time.Time
}

// Códigos de rechazo de elegibilidad del harpoon. Son la única clase de
// error que viaja con una razón legible hasta el caller.
const (
	RejectSelfSteal     = "self_steal"
	RejectAlreadyMissed = "already_missed"
	RejectAuctionEnded  = "auction_ended"
	RejectNoOdds        = "no_odds"
)

// EligibilityError rechaza un intento de robo antes de llegar al draw.
type EligibilityError struct {
	Code   string
	Detail string
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("harpoon rejected (%s): %s", e.Code, e.Detail)
}

// Rejection construye un EligibilityError con el código y detalle dados.
func Rejection(code, detail string) *EligibilityError {
	return &EligibilityError{Code: code, Detail: detail}
}
