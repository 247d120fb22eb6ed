package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/cryptosports721/eostime-sub000/internal/domain"
)

// Console implementa ports.Notifier escribiendo a stdout. En producción el
// fan-out real a clientes lo hace el transport externo; esta implementación
// cubre operación local y el modo -once.
type Console struct {
	out io.Writer
	mu  sync.Mutex
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// AuctionAdded anuncia un lane nuevo observado en el ledger.
func (c *Console) AuctionAdded(_ context.Context, a domain.Auction) error {
	c.line("added   lane=%d id=%d prize=%s expires=%s",
		a.Type, a.ID, a.PrizePool, a.ExpiresAt.Format("15:04:05"))
	return nil
}

// AuctionChanged anuncia un cambio con el precio anterior para deltas.
func (c *Console) AuctionChanged(_ context.Context, a domain.Auction, previousPrice domain.Asset) error {
	c.line("changed lane=%d id=%d it=%d bids=%d/%d leader=%s price=%s prev=%s",
		a.Type, a.ID, a.Iteration, a.BidCount(), a.InitialBids,
		a.LastBidder, a.BidPrice, previousPrice)
	return nil
}

// AuctionEnded anuncia una subasta finalizada tras el debounce.
func (c *Console) AuctionEnded(_ context.Context, a domain.Auction) error {
	c.line("ended   lane=%d id=%d leader=%s prize=%s", a.Type, a.ID, a.LastBidder, a.PrizePool)
	return nil
}

// AuctionRemoved anuncia un lane descartado tras el soak window.
func (c *Console) AuctionRemoved(_ context.Context, a domain.Auction) error {
	c.line("removed lane=%d id=%d", a.Type, a.ID)
	return nil
}

// AuctionWinner anuncia un payout finalizado.
func (c *Console) AuctionWinner(_ context.Context, rec domain.AuctionRecord) error {
	c.line("winner  lane=%d id=%d winner=%s prize=%s tx=%s",
		rec.TypeID, rec.AuctionID, rec.Winner, rec.PrizePool, rec.TxID)
	return nil
}

// HarpoonRotated imprime el commitment nuevo y la tabla de intentos
// históricos de la subasta.
func (c *Console) HarpoonRotated(_ context.Context, auctionID uint64, newHash string, attempts []domain.HarpoonAttempt) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "[%s] harpoon commitment rotated auction=%d hash=%s\n",
		time.Now().Format("15:04:05"), auctionID, newHash)

	if len(attempts) == 0 {
		return nil
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Account", "Odds", "Draw", "Status", "At")
	for _, att := range attempts {
		table.Append(
			att.Account,
			fmt.Sprintf("%.4f", att.Odds),
			fmt.Sprintf("%d", att.Draw),
			string(att.Status),
			att.At.Format("15:04:05"),
		)
	}
	table.Render()
	return nil
}

// HarpoonResult anuncia el resultado de un intento individual.
func (c *Console) HarpoonResult(_ context.Context, att domain.HarpoonAttempt) error {
	c.line("harpoon auction=%d account=%s odds=%.4f draw=%d status=%s",
		att.AuctionID, att.Account, att.Odds, att.Draw, att.Status)
	return nil
}

// PrintAuctions imprime la tabla de subastas vigentes (modo -once).
func (c *Console) PrintAuctions(auctions []domain.Auction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(auctions) == 0 {
		fmt.Fprintf(c.out, "[%s] no auctions on ledger\n", time.Now().Format("15:04:05"))
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Lane", "ID", "It", "Bids", "Leader", "Price", "Prize", "Status", "Expires")
	for _, a := range auctions {
		table.Append(
			fmt.Sprintf("%d", a.Type),
			fmt.Sprintf("%d", a.ID),
			fmt.Sprintf("%d", a.Iteration),
			fmt.Sprintf("%d/%d", a.BidCount(), a.InitialBids),
			a.LastBidder,
			a.BidPrice.String(),
			a.PrizePool.String(),
			string(a.Status),
			a.ExpiresAt.Format("15:04:05"),
		)
	}
	table.Render()
}

// line imprime una línea con timestamp de servidor.
func (c *Console) line(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "[%s] ", time.Now().Format("15:04:05"))
	fmt.Fprintf(c.out, format, args...)
	fmt.Fprintln(c.out)
}
