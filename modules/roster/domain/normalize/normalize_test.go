package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKey_Organizational(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		kind Kind
		in   string
		want string
	}{
		{name: "roman numeral folded", kind: KindRegional, in: "Vale do Paraiba I", want: "VALE DO PARAIBA 1"},
		{name: "numeral inside word kept", kind: KindDivision, in: "Divisao Invernada", want: "INVERNADA"},
		{name: "diacritics stripped", kind: KindDivision, in: "Divisão Invernada II", want: "INVERNADA 2"},
		{name: "state suffix removed", kind: KindRegional, in: "Regional Vale do Paraíba III - SP", want: "VALE DO PARAIBA 3"},
		{name: "stacked state suffixes", kind: KindRegional, in: "Litoral - SP - RJ", want: "LITORAL"},
		{name: "numeral after hyphen is not a state", kind: KindRegional, in: "Norte - II", want: "NORTE 2"},
		{name: "command prefix", kind: KindCommand, in: "  comando   Sudeste ", want: "SUDESTE"},
		{name: "stacked prefixes", kind: KindDivision, in: "DIV. Regional Centro", want: "CENTRO"},
		{name: "bare prefix word survives", kind: KindRegional, in: "Regional", want: "REGIONAL"},
		{name: "punctuation collapsed", kind: KindDivision, in: "São-José/dos   Campos", want: "SAO JOSE DOS CAMPOS"},
		{name: "numerals beyond three untouched", kind: KindRegional, in: "VP IV", want: "VP IV"},
		{name: "empty", kind: KindCommand, in: "", want: ""},
		{name: "garbage", kind: KindDivision, in: "!!! --- ???", want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Key(tc.kind, tc.in))
		})
	}
}

func TestKey_RegionalNumeralsStayDistinct(t *testing.T) {
	t.Parallel()

	require.NotEqual(t, Key(KindRegional, "VP I"), Key(KindRegional, "VP III"))
	require.False(t, Contains(Key(KindRegional, "VP III"), Key(KindRegional, "VP I")))
}

func TestKey_PersonAndRole(t *testing.T) {
	t.Parallel()

	require.Equal(t, "JOSE DA SILVA JUNIOR", Key(KindPerson, "José da Silva-Júnior"))
	require.Equal(t, "MARIA 2", Key(KindPerson, "  maria\t2 "))
	require.Equal(t, "COORDENADOR REGIONAL", Key(KindRole, "Coordenador Regional"))
	require.Equal(t, "INSTRUTOR 1", Key(KindRole, "Instrutor I"))
}

func TestNormalizer_Abbreviations(t *testing.T) {
	t.Parallel()

	n := New(map[string]string{
		"SJC":  "São José dos Campos",
		"VP":   "Vale do Paraíba",
		"LOOP": "Loop Centro",
		"":     "ignored",
	})

	require.Equal(t, "SAO JOSE DOS CAMPOS 2", n.Key(KindDivision, "Divisão SJC II"))
	require.Equal(t, "VALE DO PARAIBA 1", n.Key(KindRegional, "VP I"))
	require.Equal(t, "SJCX", n.Key(KindDivision, "SJCX"), "expansion only applies on a word boundary")
	require.Equal(t, "SJC", n.Key(KindRole, "SJC"), "roles are not expanded")

	table := n.Abbreviations()
	require.NotContains(t, table, "LOOP", "self-referencing expansion must be dropped")
	require.Len(t, table, 2)
}

func TestKey_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"", " ", "I", "II III", "Divisão Invernada", "Vale do Paraíba I - SP",
		"REGIONAL REGIONAL REG X", "DIV I", "Comando  Sul - RS - SC", "São José dos Campos",
		"SJC", "SJC I", "vp iii", "Zé Ninguém ç", "REGIONAL - II", "12-34", "Reg. Div. Comando",
		"000000000000000ǰ", "Divisão ǰardim",
	}
	n := New(map[string]string{"SJC": "São José dos Campos", "VP": "Vale do Paraíba"})
	kinds := []Kind{KindCommand, KindRegional, KindDivision, KindRole, KindPerson}

	for _, kind := range kinds {
		for _, in := range inputs {
			once := n.Key(kind, in)
			require.Equal(t, once, n.Key(kind, once), "kind=%s input=%q", kind, in)
		}
	}
}

func TestKey_LettersWithoutUppercaseForm(t *testing.T) {
	t.Parallel()

	require.Equal(t, "JARDIM", Key(KindDivision, "Divisão ǰardim"))
	require.Equal(t, "000000000000000J", Key(KindPerson, "000000000000000ǰ"))
	require.Equal(t, "J", Key(KindRole, "ǰ"))
}

func FuzzKey_Idempotent(f *testing.F) {
	for _, seed := range []string{"", "Divisão Invernada", "Vale do Paraíba I - SP", "000000000000000ǰ", "Zé Ninguém ç", "REGIONAL - II"} {
		f.Add(uint8(0), seed)
		f.Add(uint8(4), seed)
	}
	kinds := []Kind{KindCommand, KindRegional, KindDivision, KindRole, KindPerson}
	n := New(map[string]string{"SJC": "São José dos Campos", "VP": "Vale do Paraíba"})

	f.Fuzz(func(t *testing.T, k uint8, in string) {
		kind := kinds[int(k)%len(kinds)]
		once := n.Key(kind, in)
		if twice := n.Key(kind, once); twice != once {
			t.Fatalf("kind=%s input=%q: %q then %q", kind, in, once, twice)
		}
	})
}

func TestContains(t *testing.T) {
	t.Parallel()

	require.True(t, Contains("VALE DO PARAIBA 1", "VALE DO PARAIBA"))
	require.True(t, Contains("CENTRO", "CENTRO"))
	require.False(t, Contains("VP 11", "VP 1"))
	require.False(t, Contains("VALE", ""))
	require.False(t, Contains("", "VALE"))
}
