package allocation

// BoostRule constrains how far a sponsored winner may be promoted inside an
// organic ranking. The call sites that splice winners into page rankings all
// go through ApplyBoost so the promotion limits live in exactly one place.
type BoostRule struct {
	// MaxPromotion is how many positions a winner may move up. 0 disables
	// swapping entirely.
	MaxPromotion int
	// WindowTop restricts boosting to entries already ranked within the top
	// WindowTop positions; entries outside the window are never promoted.
	// 0 means the whole list.
	WindowTop int
	// FloorPosition is the best (1-based) position a boosted entry may
	// reach. 1 means a winner may become the top entry; 2 means it can never
	// displace the organic leader.
	FloorPosition int
}

// CompareSpliceRule is the compare-table policy: marketplace winners are
// spliced ahead of the organic ordering outright.
var CompareSpliceRule = BoostRule{}

// QuizBoostRule is the quiz-results policy: a winner already scoring inside
// the organic top 5 moves up exactly one position, and never past the top
// spot. Winners outside the top 5 stay put, preserving trust in the ranking.
var QuizBoostRule = BoostRule{MaxPromotion: 1, WindowTop: 5, FloorPosition: 1}

// SpliceWinners returns the ranking with winner entries moved to the front,
// in winner order, ahead of the remaining organic entries. Entries are
// matched by the key function; winners absent from the organic list are
// ignored.
func SpliceWinners[T any](organic []T, winners []Winner, key func(T) int) []T {
	winnerRank := make(map[int]int, len(winners))
	for i, w := range winners {
		winnerRank[w.CampaignID] = i
	}

	promoted := make([]T, len(winners))
	seen := make([]bool, len(winners))
	var rest []T
	for _, item := range organic {
		if r, ok := winnerRank[key(item)]; ok && !seen[r] {
			promoted[r] = item
			seen[r] = true
			continue
		}
		rest = append(rest, item)
	}

	out := make([]T, 0, len(organic))
	for i, item := range promoted {
		if seen[i] {
			out = append(out, item)
		}
	}
	return append(out, rest...)
}

// ApplyBoost applies rule to the organic ranking: each entry matching a
// winner is moved up at most MaxPromotion positions, only if it already sits
// inside the WindowTop window, and never above FloorPosition. The relative
// order of non-winners is preserved.
func ApplyBoost[T any](organic []T, winners []Winner, rule BoostRule, key func(T) int) []T {
	if rule.MaxPromotion <= 0 {
		return SpliceWinners(organic, winners, key)
	}

	isWinner := make(map[int]bool, len(winners))
	for _, w := range winners {
		isWinner[w.CampaignID] = true
	}

	out := make([]T, len(organic))
	copy(out, organic)

	floor := rule.FloorPosition
	if floor < 1 {
		floor = 1
	}

	for pos := 0; pos < len(out); pos++ {
		if !isWinner[key(out[pos])] {
			continue
		}
		if rule.WindowTop > 0 && pos >= rule.WindowTop {
			continue
		}
		target := pos - rule.MaxPromotion
		if target < floor-1 {
			target = floor - 1
		}
		for cur := pos; cur > target; cur-- {
			// Never displace another winner that already claimed the spot.
			if isWinner[key(out[cur-1])] {
				break
			}
			out[cur], out[cur-1] = out[cur-1], out[cur]
		}
	}
	return out
}
