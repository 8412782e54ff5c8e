package engines

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VolodymyrStetsenko/rukh/internal/core/finding"
)

func TestParseOutput_EmptyMeansNoFindings(t *testing.T) {
	for _, data := range [][]byte{nil, []byte(""), []byte("  \n\t")} {
		raws, err := ParseOutput(FormatGeneric, "static", data)
		require.NoError(t, err)
		assert.Empty(t, raws)
	}
}

func TestParseOutput_UnknownFormat(t *testing.T) {
	_, err := ParseOutput("sarif", "static", []byte("{}"))
	assert.ErrorContains(t, err, "unknown engine output format")
}

func TestParseGeneric(t *testing.T) {
	data := []byte(`{
		"findings": [
			{
				"severity": "HIGH",
				"confidence": "medium",
				"title": "Reentrancy in withdraw()",
				"description": "external call before state update",
				"file": "Vault.sol",
				"line": 42,
				"column": 8,
				"classifier": "reentrancy",
				"remediation": "apply checks-effects-interactions"
			},
			{
				"severity": "bogus",
				"confidence": "bogus",
				"title": "Odd report",
				"file": "Vault.sol",
				"line": 7
			}
		]
	}`)

	raws, err := ParseOutput(FormatGeneric, "fuzz", data)
	require.NoError(t, err)
	require.Len(t, raws, 2)

	first := raws[0]
	assert.Equal(t, finding.SeverityHigh, first.Severity)
	assert.Equal(t, finding.ConfidenceMedium, first.Confidence)
	assert.Equal(t, "Reentrancy in withdraw()", first.Title)
	assert.Equal(t, "Vault.sol", first.Location.File)
	assert.Equal(t, 42, first.Location.Line)
	assert.Equal(t, 8, first.Location.Column)
	assert.Equal(t, "reentrancy", first.Classifier)
	assert.Equal(t, "fuzz", first.Phase)
	assert.Equal(t, "apply checks-effects-interactions", first.Remediation)

	// 未知の表記は安全側へ正規化される
	assert.Equal(t, finding.SeverityInformational, raws[1].Severity)
	assert.Equal(t, finding.ConfidenceLow, raws[1].Confidence)
}

func TestParseGeneric_InvalidJSON(t *testing.T) {
	_, err := ParseOutput(FormatGeneric, "static", []byte("not json"))
	assert.ErrorContains(t, err, "invalid generic engine output")
}

func TestParseSlither(t *testing.T) {
	data := []byte(`{
		"success": true,
		"results": {
			"detectors": [
				{
					"check": "reentrancy-eth",
					"impact": "High",
					"confidence": "Medium",
					"description": "Reentrancy in Vault.withdraw()\n\tExternal calls:\n\t- msg.sender.call{value: amount}()",
					"elements": [
						{
							"source_mapping": {
								"filename_relative": "contracts/Vault.sol",
								"lines": [42, 43, 44]
							}
						}
					]
				},
				{
					"check": "timestamp",
					"impact": "Low",
					"confidence": "Medium",
					"description": "",
					"elements": []
				}
			]
		}
	}`)

	raws, err := ParseOutput(FormatSlither, "static", data)
	require.NoError(t, err)
	require.Len(t, raws, 2)

	first := raws[0]
	assert.Equal(t, finding.SeverityHigh, first.Severity)
	assert.Equal(t, finding.ConfidenceMedium, first.Confidence)
	// タイトルは説明の1行目、分類はcheck名から取る
	assert.Equal(t, "Reentrancy in Vault.withdraw()", first.Title)
	assert.Equal(t, "reentrancy-eth", first.Classifier)
	assert.Equal(t, "contracts/Vault.sol", first.Location.File)
	assert.Equal(t, 42, first.Location.Line)
	assert.Equal(t, "static", first.Phase)

	// 要素無しの検出はcheck名がタイトルになり、位置は空のまま
	second := raws[1]
	assert.Equal(t, "timestamp", second.Title)
	assert.Empty(t, second.Location.File)
	assert.Zero(t, second.Location.Line)
}

func TestParseSlither_ReportedFailure(t *testing.T) {
	_, err := ParseOutput(FormatSlither, "static", []byte(`{"success": false}`))
	assert.ErrorContains(t, err, "slither reported failure")
}

func TestNormalizeSeverity(t *testing.T) {
	assert.Equal(t, finding.SeverityCritical, normalizeSeverity("Critical"))
	assert.Equal(t, finding.SeverityHigh, normalizeSeverity("HIGH"))
	assert.Equal(t, finding.SeverityMedium, normalizeSeverity("medium"))
	assert.Equal(t, finding.SeverityLow, normalizeSeverity("Low"))
	assert.Equal(t, finding.SeverityInformational, normalizeSeverity("Informational"))
	assert.Equal(t, finding.SeverityInformational, normalizeSeverity(""))
}
