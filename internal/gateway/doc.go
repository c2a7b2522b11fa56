// Package gateway は監視APIの前段に立つ認証ゲートウェイの内部実装を提供する。
//
// ルーティング前に全リクエストをAuthGateで検査し、認証済みのリクエストだけを
// 上流の監視APIへ転送する。外部からアクセス可能な唯一の入口であり、
// セキュリティの境界線として機能する。
//
// /api/auth 配下は認証ブートストラップ用で、資格情報なしで通過する。
// /health、/metrics、/diagnostics/denials は別ポートの管理用リスナーで提供し、ゲートを通さない。
package gateway
