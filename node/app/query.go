package app

import (
	"strconv"
	"strings"

	"github.com/ahmadzakiakmal/skullchain/core"
	"github.com/ahmadzakiakmal/skullchain/core/auction"
	"github.com/ahmadzakiakmal/skullchain/core/types"
)

// OwnerTokens answers the owner enumeration query.
type OwnerTokens struct {
	Owner   types.Address `json:"owner"`
	Balance uint64        `json:"balance"`
	Tokens  []uint64      `json:"tokens"`
}

// AuctionView is an active listing with its price at query time.
type AuctionView struct {
	Auction      string        `json:"auction"`
	TokenID      uint64        `json:"token_id"`
	Seller       types.Address `json:"seller"`
	StartPrice   uint64        `json:"start_price"`
	EndPrice     uint64        `json:"end_price"`
	Duration     int64         `json:"duration"`
	StartedAt    int64         `json:"started_at"`
	CurrentPrice uint64        `json:"current_price"`
}

// Gen0Info summarises gen0 issuance and pricing.
type Gen0Info struct {
	AveragePrice uint64 `json:"average_price"`
	NextPrice    uint64 `json:"next_price"`
	Created      uint64 `json:"created"`
	Limit        uint64 `json:"limit"`
	Sold         uint64 `json:"sold"`
}

// RolesInfo is the role holders together with the wired component addresses.
type RolesInfo struct {
	core.Roles
	Core          types.Address `json:"core"`
	SaleAuction   types.Address `json:"sale_auction"`
	SiringAuction types.Address `json:"siring_auction"`
	GeneScience   types.Address `json:"gene_science"`
	AutoBirthFee  uint64        `json:"auto_birth_fee"`
	Balance       uint64        `json:"balance"`
	Escrow        uint64        `json:"escrow"`
}

// Account is a balance and the next expected nonce.
type Account struct {
	Address types.Address `json:"address"`
	Balance uint64        `json:"balance"`
	Nonce   uint64        `json:"nonce"`
}

// Supply is the token count and breeding activity.
type Supply struct {
	TotalSupply   uint64 `json:"total_supply"`
	PregnantCount uint64 `json:"pregnant_count"`
}

// BreedingInfo answers whether two tokens can breed.
type BreedingInfo struct {
	MatronID     uint64 `json:"matron_id"`
	SireID       uint64 `json:"sire_id"`
	CanBreedWith bool   `json:"can_breed_with"`
	MatronReady  bool   `json:"matron_ready"`
	SireReady    bool   `json:"sire_ready"`
}

// query resolves a read path against the world as of time now. Paths mirror
// the HTTP API without its /api prefix.
func (w *World) query(path string, now int64) (any, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "tokens":
		id, err := parseID(parts[1])
		if err != nil {
			return nil, err
		}
		return w.Core.GetToken(id, now)

	case len(parts) == 3 && parts[0] == "owners" && parts[2] == "tokens":
		owner := types.NormalizeAddress(parts[1])
		return OwnerTokens{Owner: owner, Balance: w.Core.BalanceOf(owner), Tokens: w.Core.TokensOfOwner(owner)}, nil

	case len(parts) == 4 && parts[0] == "owners" && parts[2] == "tokens":
		index, err := parseID(parts[3])
		if err != nil {
			return nil, err
		}
		id, err := w.Core.TokenOfOwnerByIndex(types.NormalizeAddress(parts[1]), index)
		if err != nil {
			return nil, err
		}
		return tokenResult{id}, nil

	case len(parts) == 3 && parts[0] == "auctions":
		clock, err := clockOf(w, parts[1])
		if err != nil {
			return nil, err
		}
		id, err := parseID(parts[2])
		if err != nil {
			return nil, err
		}
		l, err := clock.GetAuction(id)
		if err != nil {
			return nil, err
		}
		return auctionView(parts[1], id, l, now), nil

	case len(parts) == 3 && parts[0] == "breeding":
		matron, err := parseID(parts[1])
		if err != nil {
			return nil, err
		}
		sire, err := parseID(parts[2])
		if err != nil {
			return nil, err
		}
		ok, err := w.Core.CanBreedWith(matron, sire)
		if err != nil {
			return nil, err
		}
		mReady, _ := w.Core.IsReadyToBreed(matron, now)
		sReady, _ := w.Core.IsReadyToBreed(sire, now)
		return BreedingInfo{MatronID: matron, SireID: sire, CanBreedWith: ok, MatronReady: mReady, SireReady: sReady}, nil

	case len(parts) == 1 && parts[0] == "gen0":
		return Gen0Info{
			AveragePrice: w.Sale.AverageGen0SalePrice(),
			NextPrice:    w.Core.ComputeNextGen0Price(),
			Created:      w.Core.Gen0CreatedCount(),
			Limit:        core.Gen0CreationLimit,
			Sold:         w.Sale.Gen0SaleCount(),
		}, nil

	case len(parts) == 1 && parts[0] == "roles":
		return RolesInfo{
			Roles:         w.Core.Roles(),
			Core:          CoreAddress,
			SaleAuction:   w.Core.SaleAuctionAddress(),
			SiringAuction: w.Core.SiringAuctionAddress(),
			GeneScience:   w.Core.GeneScienceAddress(),
			AutoBirthFee:  w.Core.AutoBirthFee(),
			Balance:       w.Core.Balance(),
			Escrow:        w.Core.EscrowTotal(),
		}, nil

	case len(parts) == 2 && parts[0] == "accounts":
		addr := types.NormalizeAddress(parts[1])
		return Account{Address: addr, Balance: w.Bank.BalanceOf(addr), Nonce: w.Nonces[addr]}, nil

	case len(parts) == 1 && parts[0] == "supply":
		return Supply{TotalSupply: w.Core.TotalSupply(), PregnantCount: w.Core.PregnantCount()}, nil
	}
	return nil, errUnknownPath
}

func auctionView(name string, id uint64, l auction.Listing, now int64) AuctionView {
	return AuctionView{
		Auction:      name,
		TokenID:      id,
		Seller:       l.Seller,
		StartPrice:   l.StartPrice,
		EndPrice:     l.EndPrice,
		Duration:     l.Duration,
		StartedAt:    l.StartedAt,
		CurrentPrice: l.PriceAt(now),
	}
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, types.Violation("query", "invalid number %q", s)
	}
	return id, nil
}
