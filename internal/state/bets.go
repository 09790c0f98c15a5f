package state

import "math"

// Bet limits shared by every game in the room.
const (
	MinBet = 0.1
	MaxBet = 10000.0
)

// StepBet moves a wager one step along the non-linear bet ladder: 0.1 steps
// below 1, then 1, 10, 100 and 1000 steps as the wager grows. The result is
// clamped to [MinBet, MaxBet] and rounded to one decimal.
func StepBet(current float64, dir int) float64 {
	bet := current
	if dir > 0 {
		switch {
		case bet < 1:
			bet += 0.1
		case bet < 10:
			bet += 1
		case bet < 100:
			bet += 10
		case bet < 1000:
			bet += 100
		default:
			bet += 1000
		}
	} else {
		switch {
		case bet > 10000:
			bet -= 10000
		case bet > 1000:
			bet -= 1000
		case bet > 100:
			bet -= 100
		case bet > 10:
			bet -= 10
		case bet > 1:
			bet -= 1
		default:
			bet -= 0.1
		}
	}
	return clampBet(RoundBet(bet))
}

// RoundBet rounds a wager to one decimal place.
func RoundBet(bet float64) float64 {
	return math.Round(bet*10) / 10
}

// RoundCents rounds a payout to two decimal places.
func RoundCents(amount float64) float64 {
	return math.Round(amount*100) / 100
}

func clampBet(bet float64) float64 {
	return math.Max(MinBet, math.Min(MaxBet, bet))
}
