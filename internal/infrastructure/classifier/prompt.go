package classifier

import (
	"fmt"
	"strings"

	"nero/internal/domain/category"
)

const systemPrompt = `Você é um assistente especializado em categorização financeira.
Sua tarefa é analisar transações e atribuir a categoria mais apropriada com alta precisão.
Seja objetivo e retorne sempre JSON válido sem formatação markdown.
Use seu conhecimento sobre padrões de gastos brasileiros para melhorar a precisão.`

func buildPrompt(input category.Input, categories []*category.Category) string {
	kind := "Despesa"
	if input.Kind == category.KindIncome {
		kind = "Receita"
	}

	description := strings.TrimSpace(input.Description)
	if description == "" {
		description = "Sem descrição"
	}

	var list strings.Builder
	for i, c := range categories {
		fmt.Fprintf(&list, "%d. %s\n", i+1, c.Name)
	}

	return fmt.Sprintf(`Analise a seguinte transação e categorize-a:

**Tipo:** %s
**Valor:** R$ %s
**Descrição:** %s

**Categorias disponíveis:**
%s
Retorne APENAS um objeto JSON no seguinte formato (sem markdown):
{
  "category": "nome_da_categoria",
  "confidence": 0.95,
  "reasoning": "breve explicação da escolha"
}

Critérios:
- confidence deve ser entre 0 e 1
- category deve ser EXATAMENTE uma das categorias listadas
- reasoning deve ter no máximo 100 caracteres`, kind, input.Amount.StringFixed(2), description, list.String())
}
