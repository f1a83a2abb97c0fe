package core

import (
	"fmt"

	"github.com/ahmadzakiakmal/skullchain/core/types"
)

func isReady(t *Token, now int64) bool {
	return t.SiringWithID == 0 && t.NextActionAt <= now
}

// triggerCooldown starts the token's current cooldown and steps the index
// toward the slowest entry.
func triggerCooldown(t *Token, now int64) {
	t.NextActionAt = now + Cooldowns[t.CooldownIndex]
	if t.CooldownIndex < maxCooldownIndex {
		t.CooldownIndex++
	}
}

// isValidMatingPair rejects self-breeding and breeding with a parent or a
// sibling. Gen0 tokens have no parents and always pass the sibling check.
func isValidMatingPair(matron *Token, matronID uint64, sire *Token, sireID uint64) bool {
	if matronID == sireID {
		return false
	}
	if matron.MatronID == sireID || matron.SireID == sireID {
		return false
	}
	if sire.MatronID == matronID || sire.SireID == matronID {
		return false
	}
	// Zero is "no parent", never a shared one.
	shared := func(parent uint64) bool {
		return parent != 0 && (parent == matron.MatronID || parent == matron.SireID)
	}
	return !shared(sire.MatronID) && !shared(sire.SireID)
}

// siringPermitted reports whether the matron's side may use the sire:
// common owner, the caller owning the sire, an explicit siring approval to
// the matron's owner, or the caller holding the sire's transfer approval.
func (c *Core) siringPermitted(caller types.Address, matronID, sireID uint64) bool {
	matronOwner, sireOwner := c.owners[matronID], c.owners[sireID]
	if matronOwner == sireOwner || (!caller.IsZero() && sireOwner == caller) {
		return true
	}
	if allowed := c.sireAllowedTo[sireID]; !allowed.IsZero() && allowed == matronOwner {
		return true
	}
	return !caller.IsZero() && c.approvals[sireID] == caller
}

func (c *Core) PregnantCount() uint64 {
	return c.pregnantCount
}

func (c *Core) AutoBirthFee() uint64 {
	return c.autoBirthFee
}

// AutoBirthEscrow is the fee held for matronID's delivery.
func (c *Core) AutoBirthEscrow(matronID uint64) uint64 {
	return c.autoBirthEscrow[matronID]
}

func (c *Core) GeneScienceAddress() types.Address {
	return c.geneScienceAddr
}

// IsReadyToBreed reports whether the token is neither gestating nor cooling
// down at time now.
func (c *Core) IsReadyToBreed(tokenID uint64, now int64) (bool, error) {
	if err := c.requireToken("isReadyToBreed", tokenID); err != nil {
		return false, err
	}
	return isReady(c.token(tokenID), now), nil
}

func (c *Core) IsPregnant(tokenID uint64) (bool, error) {
	if err := c.requireToken("isPregnant", tokenID); err != nil {
		return false, err
	}
	return c.token(tokenID).IsGestating(), nil
}

// CanBreedWith checks lineage and siring permission for the pair. It does
// not look at readiness.
func (c *Core) CanBreedWith(matronID, sireID uint64) (bool, error) {
	const op = "canBreedWith"
	if err := c.requireToken(op, matronID); err != nil {
		return false, err
	}
	if err := c.requireToken(op, sireID); err != nil {
		return false, err
	}
	ok := isValidMatingPair(c.token(matronID), matronID, c.token(sireID), sireID) &&
		c.siringPermitted(c.owners[matronID], matronID, sireID)
	return ok, nil
}

// ApproveSiring lets addr breed its tokens with sireID. The grant is
// cleared on breeding and on transfer.
func (c *Core) ApproveSiring(msg types.Msg, addr types.Address, sireID uint64) error {
	const op = "approveSiring"
	if err := c.whenNotPaused(op); err != nil {
		return err
	}
	if err := c.requireToken(op, sireID); err != nil {
		return err
	}
	if !c.owns(msg.Sender, sireID) {
		return types.Unauthorized(op, "caller does not own sire %d", sireID)
	}
	if addr.IsZero() {
		delete(c.sireAllowedTo, sireID)
	} else {
		c.sireAllowedTo[sireID] = addr
	}
	c.events.Emit(EventSiringApproval,
		types.Attr("sire_id", sireID),
		types.Attr("approved", addr),
	)
	return nil
}

// BreedWith impregnates matronID by sireID. Any value sent is escrowed as
// the auto-birth fee and must then cover AutoBirthFee.
func (c *Core) BreedWith(msg types.Msg, matronID, sireID uint64) error {
	return c.breed("breedWith", msg, matronID, sireID, false)
}

// BreedWithAuto is BreedWith with the auto-birth fee required.
func (c *Core) BreedWithAuto(msg types.Msg, matronID, sireID uint64) error {
	return c.breed("breedWithAuto", msg, matronID, sireID, true)
}

func (c *Core) breed(op string, msg types.Msg, matronID, sireID uint64, auto bool) error {
	if err := c.whenNotPaused(op); err != nil {
		return err
	}
	if err := c.requireToken(op, matronID); err != nil {
		return err
	}
	if err := c.requireToken(op, sireID); err != nil {
		return err
	}
	if !c.controls(msg.Sender, matronID) {
		return types.Unauthorized(op, "caller does not control matron %d", matronID)
	}
	if !c.siringPermitted(msg.Sender, matronID, sireID) {
		return types.Unauthorized(op, "siring with sire %d not permitted", sireID)
	}
	if err := c.checkPair(op, matronID, sireID, msg.Now); err != nil {
		return err
	}
	if (auto || msg.Value > 0) && msg.Value < c.autoBirthFee {
		return types.Underpaid(op, "auto-birth fee is %d, got %d", c.autoBirthFee, msg.Value)
	}
	if err := c.bank.Transfer(msg.Sender, c.self, msg.Value); err != nil {
		return err
	}
	c.conceive(matronID, sireID, msg.Now, msg.Value)
	return nil
}

// checkPair validates readiness and lineage of both parents.
func (c *Core) checkPair(op string, matronID, sireID uint64, now int64) error {
	matron, sire := c.token(matronID), c.token(sireID)
	switch {
	case matron.IsGestating():
		return types.BadState(op, "matron %d is pregnant", matronID)
	case matron.NextActionAt > now:
		return types.BadState(op, "matron %d is cooling down until %d", matronID, matron.NextActionAt)
	case sire.IsGestating():
		return types.BadState(op, "sire %d is pregnant", sireID)
	case sire.NextActionAt > now:
		return types.BadState(op, "sire %d is cooling down until %d", sireID, sire.NextActionAt)
	case !isValidMatingPair(matron, matronID, sire, sireID):
		return types.BadState(op, "tokens %d and %d are too closely related", matronID, sireID)
	}
	return nil
}

// conceive marks the matron pregnant. The sire's cooldown starts at birth.
func (c *Core) conceive(matronID, sireID uint64, now int64, fee uint64) {
	matron := c.token(matronID)
	matron.SiringWithID = sireID
	triggerCooldown(matron, now)
	delete(c.sireAllowedTo, matronID)
	delete(c.sireAllowedTo, sireID)
	c.pregnantCount++
	c.events.Emit(EventPregnant,
		types.Attr("owner", c.owners[matronID]),
		types.Attr("matron_id", matronID),
		types.Attr("sire_id", sireID),
		types.Attr("cooldown_end", matron.NextActionAt),
	)
	if fee > 0 {
		c.autoBirthEscrow[matronID] += fee
		c.escrowTotal += fee
		c.events.Emit(EventAutoBirth,
			types.Attr("matron_id", matronID),
			types.Attr("cooldown_end", matron.NextActionAt),
		)
	}
}

// GiveBirth delivers matronID's child to the matron's owner. Anyone may
// call it once the gestation is over; the caller receives the escrowed
// auto-birth fee, capped at the current AutoBirthFee.
func (c *Core) GiveBirth(msg types.Msg, matronID uint64) (uint64, error) {
	const op = "giveBirth"
	if err := c.whenNotPaused(op); err != nil {
		return 0, err
	}
	if err := c.requireToken(op, matronID); err != nil {
		return 0, err
	}
	matron := c.token(matronID)
	if !matron.IsGestating() {
		return 0, types.BadState(op, "matron %d is not pregnant", matronID)
	}
	if matron.NextActionAt > msg.Now {
		return 0, types.BadState(op, "matron %d is due at %d", matronID, matron.NextActionAt)
	}
	if c.geneScience == nil {
		return 0, types.Violation(op, "gene science is not configured")
	}
	sireID := matron.SiringWithID
	sire := c.token(sireID)
	genes, err := c.geneScience.Combine(matron.Genes, sire.Genes)
	if err != nil {
		return 0, types.Violation(op, "combine genes: %v", err)
	}
	generation := max(matron.Generation, sire.Generation) + 1
	owner := c.owners[matronID]
	fee := c.autoBirthEscrow[matronID]
	reward := min(fee, c.autoBirthFee)

	// The payout is the only step that can fail, so it goes before any
	// ledger state changes.
	if err := c.bank.Transfer(c.self, msg.Sender, reward); err != nil {
		return 0, fmt.Errorf("%s: pay midwife: %w", op, err)
	}
	childID := c.createToken(matronID, sireID, generation, genes, owner, msg.Now)
	c.token(matronID).SiringWithID = 0
	triggerCooldown(c.token(sireID), msg.Now)
	c.pregnantCount--
	delete(c.autoBirthEscrow, matronID)
	c.escrowTotal -= fee
	return childID, nil
}

// SetAutoBirthFee is COO only. Escrows already held are unaffected.
func (c *Core) SetAutoBirthFee(msg types.Msg, fee uint64) error {
	const op = "setAutoBirthFee"
	if err := c.requireCOO(op, msg); err != nil {
		return err
	}
	c.autoBirthFee = fee
	c.events.Emit(EventConfigChanged, types.Attr("setting", "auto_birth_fee"), types.Attr("value", fee))
	return nil
}

// SetGeneScienceAddress points the ledger at a gene mixer. CEO only.
func (c *Core) SetGeneScienceAddress(msg types.Msg, addr types.Address) error {
	const op = "setGeneScienceAddress"
	if err := c.requireCEO(op, msg); err != nil {
		return err
	}
	gs, err := c.probeGeneScience(op, addr)
	if err != nil {
		return err
	}
	c.geneScienceAddr, c.geneScience = addr, gs
	c.events.Emit(EventConfigChanged, types.Attr("setting", "gene_science"), types.Attr("value", addr))
	return nil
}

// lookup resolves a component address other than the ledger itself.
func (c *Core) lookup(op string, addr types.Address) (any, error) {
	if addr.IsZero() || addr == c.self {
		return nil, types.Violation(op, "invalid component address %q", addr)
	}
	component, ok := c.dir.Lookup(addr)
	if !ok {
		return nil, types.Violation(op, "nothing deployed at %s", addr)
	}
	return component, nil
}

func (c *Core) probeGeneScience(op string, addr types.Address) (GeneScience, error) {
	component, err := c.lookup(op, addr)
	if err != nil {
		return nil, err
	}
	gs, ok := component.(GeneScience)
	if !ok || !gs.IsGeneScience() {
		return nil, types.Violation(op, "%s is not a gene science component", addr)
	}
	return gs, nil
}
