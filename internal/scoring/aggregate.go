package scoring

// aggregateScore folds the supplied points into per-side counts, skipping undone points.
func aggregateScore(matchID string, points []Point, updatedAtMillis int64) MatchScore {
	score := MatchScore{MatchID: matchID, UpdatedAtMillis: updatedAtMillis}
	for _, point := range points {
		if point.IsUndone || point.MatchID != matchID {
			continue
		}
		switch point.PointType {
		case PointTypeA:
			score.GameCountA++
		case PointTypeB:
			score.GameCountB++
		}
	}
	return score
}

func sameCounts(left, right MatchScore) bool {
	return left.GameCountA == right.GameCountA && left.GameCountB == right.GameCountB
}
