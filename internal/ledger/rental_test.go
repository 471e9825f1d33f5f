package ledger

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

var (
	owner  = Address("EQowner")
	renter = Address("EQrenter")
	week   = 7 * 24 * time.Hour
)

func newTestRental(t *testing.T, policy FeePolicy) *RentalLedger {
	t.Helper()
	r, err := NewRentalLedger(owner, policy)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddBook(owner, Book{
		ID:          1,
		Title:       "The Great Gatsby",
		Author:      "F. Scott Fitzgerald",
		Description: "A classic novel",
		RentalPrice: MustParseAmount("1"),
	}); err != nil {
		t.Fatalf("AddBook: %v", err)
	}
	return r
}

func TestAddBook(t *testing.T) {
	r := newTestRental(t, nil)

	b, err := r.Book(1)
	if err != nil {
		t.Fatal(err)
	}
	if !b.Available || b.Title != "The Great Gatsby" || b.Author != "F. Scott Fitzgerald" || b.Description != "A classic novel" {
		t.Errorf("book = %+v", b)
	}
	if b.RentalPrice.Cmp(MustParseAmount("1")) != 0 {
		t.Errorf("rental price = %s", b.RentalPrice)
	}

	if _, err := r.AddBook(owner, Book{ID: 1, RentalPrice: big.NewInt(5)}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate add err = %v", err)
	}
	if _, err := r.AddBook(renter, Book{ID: 2, RentalPrice: big.NewInt(5)}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("non-owner add err = %v", err)
	}
	if _, err := r.AddBook(owner, Book{ID: 3}); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("priceless add err = %v", err)
	}
}

func TestRentBook(t *testing.T) {
	r := newTestRental(t, nil)
	one := MustParseAmount("1")

	res, err := r.RentBook(renter, 1, week, one, t0)
	if err != nil {
		t.Fatalf("RentBook: %v", err)
	}
	if len(res.Payouts) != 0 {
		t.Errorf("rent produced payouts: %+v", res.Payouts)
	}

	a, err := r.RentalAgreement(1)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Active || a.Returned || a.Damaged {
		t.Errorf("flags = active:%v returned:%v damaged:%v", a.Active, a.Returned, a.Damaged)
	}
	if a.Renter != renter || a.RentalPeriod != week || !a.StartTime.Equal(t0) {
		t.Errorf("agreement = %+v", a)
	}
	if a.Deposit.Cmp(one) != 0 || a.RentalPrice.Cmp(one) != 0 {
		t.Errorf("deposit = %s, price = %s", a.Deposit, a.RentalPrice)
	}
	if b, _ := r.Book(1); b.Available {
		t.Error("rented book still available")
	}

	if _, err := r.RentBook(stranger, 1, week, one, t0); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("double rent err = %v, want ErrNotAvailable", err)
	}
}

func TestRentBookFailures(t *testing.T) {
	one := MustParseAmount("1")
	tests := []struct {
		name   string
		id     uint64
		period time.Duration
		value  *big.Int
		want   error
	}{
		{"unknown book", 9, week, one, ErrNotFound},
		{"underpaid", 1, week, MustParseAmount("0.5"), ErrAmountMismatch},
		{"overpaid", 1, week, MustParseAmount("1.5"), ErrAmountMismatch},
		{"zero period", 1, 0, one, ErrInvalidPeriod},
		{"period too long", 1, MaxRentalPeriod + time.Second, one, ErrInvalidPeriod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRental(t, nil)
			if _, err := r.RentBook(renter, tt.id, tt.period, tt.value, t0); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if b, _ := r.Book(1); !b.Available {
				t.Error("failed rent changed availability")
			}
		})
	}
}

func TestReturnBookOnTime(t *testing.T) {
	r := newTestRental(t, ProratedFeePolicy{DamageBPS: 5000})
	one := MustParseAmount("1")
	_, _ = r.RentBook(renter, 1, week, one, t0)

	res, err := r.ReturnBook(renter, 1, t0.Add(3*24*time.Hour))
	if err != nil {
		t.Fatalf("ReturnBook: %v", err)
	}

	if len(res.Events) != 1 {
		t.Fatalf("events = %+v", res.Events)
	}
	ev := res.Events[0]
	wantOrder := []string{"bookId", "renter", "rentalPrice", "deposit", "lateFee"}
	if ev.Name != EventBookReturned || len(ev.Args) != len(wantOrder) {
		t.Fatalf("event = %+v", ev)
	}
	for i, name := range wantOrder {
		if ev.Args[i].Name != name {
			t.Errorf("arg %d = %s, want %s", i, ev.Args[i].Name, name)
		}
	}
	if ev.Amount("lateFee").Sign() != 0 {
		t.Errorf("lateFee = %s, want 0", ev.Amount("lateFee"))
	}
	if ev.Amount("deposit").Cmp(one) != 0 || ev.Amount("rentalPrice").Cmp(one) != 0 {
		t.Errorf("deposit/price = %s/%s", ev.Amount("deposit"), ev.Amount("rentalPrice"))
	}

	if len(res.Payouts) != 1 || res.Payouts[0].To != renter || res.Payouts[0].Amount.Cmp(one) != 0 {
		t.Errorf("payouts = %+v, want full refund", res.Payouts)
	}

	a, _ := r.RentalAgreement(1)
	if a.Active || !a.Returned {
		t.Errorf("flags = active:%v returned:%v", a.Active, a.Returned)
	}
	if b, _ := r.Book(1); !b.Available {
		t.Error("returned book not available")
	}
}

func TestReturnBookLateProrated(t *testing.T) {
	r := newTestRental(t, ProratedFeePolicy{})
	one := MustParseAmount("1")
	_, _ = r.RentBook(renter, 1, week, one, t0)

	// half a period overdue withholds half the deposit
	res, err := r.ReturnBook(renter, 1, t0.Add(week+week/2))
	if err != nil {
		t.Fatal(err)
	}
	half := MustParseAmount("0.5")
	if fee := res.Events[0].Amount("lateFee"); fee.Cmp(half) != 0 {
		t.Errorf("lateFee = %s, want %s", FormatAmount(fee), FormatAmount(half))
	}
	if res.Payouts[0].Amount.Cmp(half) != 0 {
		t.Errorf("refund = %s", FormatAmount(res.Payouts[0].Amount))
	}
	if got := r.Retained(); got.Cmp(half) != 0 {
		t.Errorf("retained = %s", got)
	}
}

func TestReturnBookVeryLateIsCappedAtDeposit(t *testing.T) {
	r := newTestRental(t, ProratedFeePolicy{})
	_, _ = r.RentBook(renter, 1, week, MustParseAmount("1"), t0)

	res, err := r.ReturnBook(renter, 1, t0.Add(10*week))
	if err != nil {
		t.Fatal(err)
	}
	if fee := res.Events[0].Amount("lateFee"); fee.Cmp(MustParseAmount("1")) != 0 {
		t.Errorf("lateFee = %s", fee)
	}
	if len(res.Payouts) != 0 {
		t.Errorf("zero refund still produced payouts: %+v", res.Payouts)
	}
}

func TestReturnBookFlatFee(t *testing.T) {
	r := newTestRental(t, FlatFeePolicy{Fee: MustParseAmount("0.5")})
	one := MustParseAmount("1")
	_, _ = r.RentBook(renter, 1, week, one, t0)

	res, err := r.ReturnBook(renter, 1, t0)
	if err != nil {
		t.Fatal(err)
	}
	lateFee := res.Events[0].Amount("lateFee")
	if lateFee.Cmp(MustParseAmount("0.5")) != 0 {
		t.Errorf("lateFee = %s", FormatAmount(lateFee))
	}
	refund := res.Payouts[0].Amount
	if sum := new(big.Int).Add(refund, lateFee); sum.Cmp(one) != 0 {
		t.Errorf("refund + lateFee = %s, want deposit %s", sum, one)
	}
}

func TestReturnBookFailures(t *testing.T) {
	r := newTestRental(t, nil)
	if _, err := r.ReturnBook(renter, 1, t0); !errors.Is(err, ErrNoActiveRental) {
		t.Errorf("return without rental err = %v", err)
	}
	_, _ = r.RentBook(renter, 1, week, MustParseAmount("1"), t0)
	if _, err := r.ReturnBook(stranger, 1, t0); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("stranger return err = %v", err)
	}
	if _, err := r.ReturnBook(renter, 1, t0); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReturnBook(renter, 1, t0); !errors.Is(err, ErrNoActiveRental) {
		t.Errorf("second return err = %v", err)
	}
}

func TestReportDamage(t *testing.T) {
	r := newTestRental(t, ProratedFeePolicy{DamageBPS: 2500})
	one := MustParseAmount("1")
	_, _ = r.RentBook(renter, 1, week, one, t0)

	res, err := r.ReportDamage(renter, 1)
	if err != nil {
		t.Fatalf("ReportDamage: %v", err)
	}
	if len(res.Payouts) != 0 {
		t.Errorf("damage report moved value: %+v", res.Payouts)
	}
	a, _ := r.RentalAgreement(1)
	if !a.Damaged || !a.Active {
		t.Errorf("flags = damaged:%v active:%v", a.Damaged, a.Active)
	}
	if b, _ := r.Book(1); b.Available {
		t.Error("damaged book became available before return")
	}

	res, err = r.ReturnBook(renter, 1, t0.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 2 || res.Events[1].Name != EventDamageCharged {
		t.Fatalf("events = %+v", res.Events)
	}
	damage := res.Events[1].Amount("damageFee")
	if damage.Cmp(MustParseAmount("0.25")) != 0 {
		t.Errorf("damageFee = %s", FormatAmount(damage))
	}
	a, _ = r.RentalAgreement(1)
	sum := new(big.Int).Add(a.Refund, a.LateFee)
	sum.Add(sum, a.DamageFee)
	if sum.Cmp(a.Deposit) != 0 {
		t.Errorf("refund+fees = %s, deposit = %s", sum, a.Deposit)
	}
}

func TestReportDamageAuthorization(t *testing.T) {
	r := newTestRental(t, nil)
	if _, err := r.ReportDamage(renter, 1); !errors.Is(err, ErrNoActiveRental) {
		t.Errorf("no rental err = %v", err)
	}
	_, _ = r.RentBook(renter, 1, week, MustParseAmount("1"), t0)
	if _, err := r.ReportDamage(stranger, 1); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("stranger err = %v", err)
	}
	if _, err := r.ReportDamage(owner, 1); err != nil {
		t.Errorf("owner report err = %v", err)
	}
	res, err := r.ReportDamage(renter, 1)
	if err != nil || len(res.Events) != 0 {
		t.Errorf("repeat report = %+v, %v", res, err)
	}
}

func TestAvailabilityTracksActiveAgreement(t *testing.T) {
	r := newTestRental(t, nil)
	one := MustParseAmount("1")

	check := func(step string) {
		t.Helper()
		b, _ := r.Book(1)
		a, err := r.RentalAgreement(1)
		active := err == nil && a.Active
		if b.Available == active {
			t.Errorf("%s: available=%v active=%v", step, b.Available, active)
		}
	}

	check("new")
	for i := 0; i < 3; i++ {
		now := t0.Add(time.Duration(i) * week)
		if _, err := r.RentBook(renter, 1, week, one, now); err != nil {
			t.Fatal(err)
		}
		check("rented")
		if _, err := r.ReturnBook(renter, 1, now.Add(time.Hour)); err != nil {
			t.Fatal(err)
		}
		check("returned")
	}
	if n := len(r.History(1)); n != 3 {
		t.Errorf("history length = %d, want 3", n)
	}
}

func TestWithdrawRetained(t *testing.T) {
	r := newTestRental(t, FlatFeePolicy{Fee: MustParseAmount("0.5")})
	if _, err := r.WithdrawRetained(owner); !errors.Is(err, ErrNothingToWithdraw) {
		t.Errorf("empty withdraw err = %v", err)
	}
	_, _ = r.RentBook(renter, 1, week, MustParseAmount("1"), t0)
	_, _ = r.ReturnBook(renter, 1, t0)

	if _, err := r.WithdrawRetained(renter); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("renter withdraw err = %v", err)
	}
	res, err := r.WithdrawRetained(owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Payouts) != 1 || res.Payouts[0].To != owner || res.Payouts[0].Amount.Cmp(MustParseAmount("0.5")) != 0 {
		t.Errorf("payouts = %+v", res.Payouts)
	}
	if r.Retained().Sign() != 0 {
		t.Error("retained not cleared")
	}
}

func TestEventSequenceIsMonotonic(t *testing.T) {
	r := newTestRental(t, nil)
	var seqs []uint64
	collect := func(res Result, err error) {
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range res.Events {
			seqs = append(seqs, e.Seq)
		}
	}
	collect(r.RentBook(renter, 1, week, MustParseAmount("1"), t0))
	collect(r.ReportDamage(renter, 1))
	collect(r.ReturnBook(renter, 1, t0))

	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			t.Fatalf("seqs = %v", seqs)
		}
	}
}

func TestPeriodFromSeconds(t *testing.T) {
	tests := []struct {
		secs    int64
		want    time.Duration
		wantErr bool
	}{
		{60, time.Minute, false},
		{int64(MaxRentalPeriod / time.Second), MaxRentalPeriod, false},
		{int64(MaxRentalPeriod/time.Second) + 1, 0, true},
		// Would wrap to a few hundred milliseconds if multiplied unchecked.
		{18446744074, 0, true},
		{0, 0, true},
		{-5, 0, true},
	}
	for _, tt := range tests {
		got, err := PeriodFromSeconds(tt.secs)
		if (err != nil) != tt.wantErr {
			t.Errorf("PeriodFromSeconds(%d) err = %v, wantErr %v", tt.secs, err, tt.wantErr)
			continue
		}
		if tt.wantErr && !errors.Is(err, ErrInvalidPeriod) {
			t.Errorf("PeriodFromSeconds(%d) err = %v, want ErrInvalidPeriod", tt.secs, err)
		}
		if got != tt.want {
			t.Errorf("PeriodFromSeconds(%d) = %v, want %v", tt.secs, got, tt.want)
		}
	}
}
