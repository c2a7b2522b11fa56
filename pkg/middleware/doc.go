// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// 中心となるのはAuthGateで、ルーティング前に全リクエストを検査し、
// Authorizationヘッダーのトークン片とHTTP-onlyセッションCookieの値を
// 連結した資格情報をToken Validatorで検証する。どちらか一方でも欠けていれば
// 検証を行わずに401を返す。ヘッダーだけ、Cookieだけを盗まれても
// リクエストを再生できないよう、両方の入力を必須とするプロトコルである。
//
// そのほか、アクセスログ、パニックリカバリ、CORS設定など、
// ゲートウェイで共通して使用するミドルウェアを含む。
package middleware
