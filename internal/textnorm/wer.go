package textnorm

import "strings"

// WERResult holds detailed word error rate results.
type WERResult struct {
	WER           float64 `json:"wer"`           // 0.0 = perfect, can exceed 1.0
	Substitutions int     `json:"substitutions"` // words replaced with different words
	Insertions    int     `json:"insertions"`    // extra words in hypothesis
	Deletions     int     `json:"deletions"`     // words missing from hypothesis
	RefWords      int     `json:"reference_words"`
	HypWords      int     `json:"hypothesis_words"`
}

// ComputeWER returns (S + I + D) / N over whitespace-separated words.
// Words are compared verbatim; callers wanting script or case folding run
// Normalize first. An empty reference scores 0 against an empty hypothesis
// and 1 against anything else.
func ComputeWER(reference, hypothesis string) WERResult {
	refWords := strings.Fields(reference)
	hypWords := strings.Fields(hypothesis)

	n := len(refWords)
	m := len(hypWords)

	if n == 0 {
		res := WERResult{HypWords: m, Insertions: m}
		if m > 0 {
			res.WER = 1.0
		}
		return res
	}

	d := make([][]int, n+1)
	for i := range d {
		d[i] = make([]int, m+1)
		d[i][0] = i
	}
	for j := 0; j <= m; j++ {
		d[0][j] = j
	}

	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if refWords[i-1] == hypWords[j-1] {
				d[i][j] = d[i-1][j-1]
				continue
			}
			d[i][j] = 1 + min(d[i-1][j-1], d[i-1][j], d[i][j-1])
		}
	}

	var subs, ins, dels int
	i, j := n, m
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && refWords[i-1] == hypWords[j-1]:
			i--
			j--
		case i > 0 && j > 0 && d[i][j] == d[i-1][j-1]+1:
			subs++
			i--
			j--
		case i > 0 && d[i][j] == d[i-1][j]+1:
			dels++
			i--
		default:
			ins++
			j--
		}
	}

	return WERResult{
		WER:           float64(d[n][m]) / float64(n),
		Substitutions: subs,
		Insertions:    ins,
		Deletions:     dels,
		RefWords:      n,
		HypWords:      m,
	}
}
