// Package domain define o estado do pool de assentos, os resultados de alocação
// e os contratos (journal, assinantes de eventos, estatísticas).
//
// Este pacote não depende de net/http, de banco de dados nem de logging.
// As primitivas de Pool não são seguras para uso concorrente: quem as compõe
// sob exclusão mútua é o motor em allocation/application.
package domain
