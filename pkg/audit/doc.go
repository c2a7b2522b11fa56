// Package audit はAuthGateが拒否したリクエストをSQLiteに記録する。
//
// Storeはmiddleware.DenialReporterを実装しており、診断専用の副作用として動作する。
// 書き込みは非同期で行い、保持件数には上限がある。
// 書き込みに失敗しても判定結果には影響しない。資格情報は記録しない。
package audit
